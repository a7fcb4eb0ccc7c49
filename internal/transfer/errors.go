package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"

	apperrors "github.com/deemusic/deemusic-player/internal/errors"
)

// StatusCoder is implemented by transport errors that carry an HTTP status
type StatusCoder interface {
	HTTPStatus() int
}

// ErrDestinationInUse is the cause of the validation error returned when a
// destination is already being written for another source
var ErrDestinationInUse = errors.New("destination already in use")

// IsCanceled reports whether err is a cooperative cancellation
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// TranslateError maps a transport or filesystem failure to a typed error.
// Cancellation and errors that are already typed are returned unchanged.
func TranslateError(err error) error {
	if err == nil || IsCanceled(err) {
		return err
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var status StatusCoder
	if errors.As(err, &status) {
		code := status.HTTPStatus()
		return apperrors.NewTransferError(fmt.Sprintf("server responded with status %d", code), code, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewNetworkError("transfer timed out", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return apperrors.NewNetworkError("host could not be resolved", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return apperrors.NewNetworkError("network unreachable", err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return apperrors.NewNetworkError("transport error", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewNetworkError("transport error", err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return apperrors.NewTransferError("connection closed before the transfer completed", 0, err)
	}

	var pathErr *fs.PathError
	var linkErr *os.LinkError
	if errors.As(err, &pathErr) || errors.As(err, &linkErr) {
		return apperrors.NewFileSystemError("failed to write transfer output", err)
	}

	return apperrors.NewTransferError("transfer failed", 0, err)
}
