package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/ispnode/internal/isp"
	"github.com/smazurov/ispnode/internal/vpp"
)

// toHTTPError maps a controller or post-processing error to a huma status
// error. The error code travels in the message so clients can branch on it.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var ispErr *isp.Error
	if errors.As(err, &ispErr) {
		msg := string(ispErr.Code) + ": " + ispErr.Message
		switch ispErr.Code {
		case isp.CodeBadValue, isp.CodeBadIndex:
			return huma.Error400BadRequest(msg, err)
		case isp.CodeInvalidOperation, isp.CodeDeadObject:
			return huma.Error409Conflict(msg, err)
		case isp.CodeNotSupported:
			return huma.Error422UnprocessableEntity(msg, err)
		case isp.CodeNotEnoughData:
			return huma.Error503ServiceUnavailable(msg, err)
		default:
			return huma.Error500InternalServerError(msg, err)
		}
	}

	var vppErr *vpp.Error
	if errors.As(err, &vppErr) {
		msg := string(vppErr.Code) + ": " + vppErr.Message
		switch vppErr.Code {
		case vpp.CodeSessionNotFound:
			return huma.Error404NotFound(msg, err)
		case vpp.CodeSessionExists:
			return huma.Error409Conflict(msg, err)
		case vpp.CodeNotSupported:
			return huma.Error422UnprocessableEntity(msg, err)
		case vpp.CodeBufferNotReady, vpp.CodeDataRendering:
			return huma.Error503ServiceUnavailable(msg, err)
		default:
			return huma.Error500InternalServerError(msg, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return huma.Error504GatewayTimeout("request ended before the operation completed", err)
	}
	return huma.Error500InternalServerError("internal error", err)
}
