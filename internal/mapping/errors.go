package mapping

import "github.com/mywed360/mail-service/internal/mailerr"

var (
	ErrFolderNotFound  = mailerr.NotFound("folder-not-found", "folder not found")
	ErrFolderExists    = mailerr.Conflict("folder-already-exists", "a folder with this id already exists")
	ErrInvalidFolder   = mailerr.BadRequest("invalid-folder", "folder name is required")
	ErrTagNotFound     = mailerr.NotFound("tag-not-found", "tag not found")
	ErrTagExists       = mailerr.Conflict("tag-already-exists", "a tag with this id already exists")
	ErrInvalidTag      = mailerr.BadRequest("invalid-tag", "tag name is required")
	ErrNothingToUpdate = mailerr.BadRequest("nothing-to-update", "no updatable field supplied")
	ErrMissingAccount  = mailerr.Unauthenticated("missing-account", "account id is required")
	ErrMissingMailID   = mailerr.BadRequest("missing-mail-id", "mail id is required")
)
