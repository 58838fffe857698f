package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/mywed360/mail-service/internal/mailerr"
)

var ErrInvalidBody = mailerr.BadRequest("invalid-body", "request body is not valid JSON")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON returns a JSON response.
func JSON(status int, v any) events.APIGatewayV2HTTPResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"internal-error"}`,
		}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

// Error returns the response for err. Server-side failures are logged and
// reported as internal-error; client errors carry their code.
func Error(ctx context.Context, logger *slog.Logger, err error) events.APIGatewayV2HTTPResponse {
	status := mailerr.HTTPStatus(err)
	code := mailerr.CodeOf(err)
	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(ctx, "Request failed",
				slog.String("code", code),
				slog.String("error", err.Error()),
			)
		}
		if status == http.StatusInternalServerError {
			code = "internal-error"
		}
	}
	return JSON(status, ErrorBody{Error: code})
}

// NotFoundRoute answers a route the handler does not serve.
func NotFoundRoute() events.APIGatewayV2HTTPResponse {
	return JSON(http.StatusNotFound, ErrorBody{Error: "route-not-found"})
}

// DecodeBody unmarshals the JSON body into v. An empty body leaves v as is.
func DecodeBody(request events.APIGatewayV2HTTPRequest, v any) error {
	body := request.Body
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return ErrInvalidBody
		}
		body = string(decoded)
	}
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return ErrInvalidBody
	}
	return nil
}

// Query returns a trimmed query string parameter.
func Query(request events.APIGatewayV2HTTPRequest, key string) string {
	return strings.TrimSpace(request.QueryStringParameters[key])
}

// QueryInt returns an integer query parameter, 0 when absent or invalid.
func QueryInt(request events.APIGatewayV2HTTPRequest, key string) int {
	n, err := strconv.Atoi(Query(request, key))
	if err != nil {
		return 0
	}
	return n
}

// PathParam returns a trimmed path parameter.
func PathParam(request events.APIGatewayV2HTTPRequest, key string) string {
	return strings.TrimSpace(request.PathParameters[key])
}
