package dynamo

import (
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/mywed360/mail-service/internal/mailerr"
)

// IsIndexUnavailable reports whether err was caused by a query against an
// index that does not exist yet or is still backfilling.
func IsIndexUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mailerr.ErrIndexUnavailable) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() != "ValidationException" {
			return false
		}
		return strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "index")
	}
	return false
}

// IsConditionFailed reports whether err is a failed condition on a single
// write or on any item of a transaction.
func IsConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var txCanceled *types.TransactionCanceledException
	if errors.As(err, &txCanceled) {
		for _, reason := range txCanceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// ClassifyQueryError wraps index failures as mailerr.ErrIndexUnavailable and
// passes other errors through.
func ClassifyQueryError(err error) error {
	if err == nil {
		return nil
	}
	if IsIndexUnavailable(err) {
		return mailerr.IndexUnavailable(err)
	}
	return err
}
