package domain

import "errors"

// Domain errors.
var (
	// ErrRateLimited is returned when an external service responded 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrFetchFailed is returned when a media download could not be
	// completed after retries.
	ErrFetchFailed = errors.New("media fetch failed")

	// ErrEmptyDownload is returned when a download completed but the
	// destination file is missing or empty.
	ErrEmptyDownload = errors.New("downloaded file is missing or empty")

	// ErrBudgetUnreachable is returned when compression cannot bring a
	// file under the destination size budget.
	ErrBudgetUnreachable = errors.New("size budget unreachable")

	// ErrMuxFailed is returned when merging video and audio streams fails.
	ErrMuxFailed = errors.New("audio/video mux failed")

	// ErrUploadFailed is returned when a blob upload is rejected.
	ErrUploadFailed = errors.New("blob upload failed")

	// ErrPublishFailed is returned when no post in a thread could be created.
	ErrPublishFailed = errors.New("publish failed")

	// ErrLedgerWrite is returned when persisting the dedup ledger fails.
	// Fatal for the cycle: continuing would risk re-publishing.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrNoSession is returned when a posting call is made before login.
	ErrNoSession = errors.New("no authenticated session")

	// ErrSessionExpired is returned when the access token was rejected
	// and could not be refreshed.
	ErrSessionExpired = errors.New("session expired")

	// ErrLoginFailed is returned when authentication with the
	// destination platform fails.
	ErrLoginFailed = errors.New("login failed")

	// ErrUnsupportedMedia is returned for media the pipeline cannot handle.
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// PostError wraps an error with source-post context.
type PostError struct {
	PostID PostID
	Op     string
	Err    error
}

func (e *PostError) Error() string {
	if e.PostID != "" {
		return e.Op + " [" + e.PostID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *PostError) Unwrap() error {
	return e.Err
}

// NewPostError creates a new PostError.
func NewPostError(postID PostID, op string, err error) *PostError {
	return &PostError{
		PostID: postID,
		Op:     op,
		Err:    err,
	}
}
