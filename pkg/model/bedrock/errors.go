package bedrock

import (
	"context"
	"errors"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	modelpkg "github.com/edumgt/AI-AWS-Bedrock-course/pkg/model"
)

// wrapError converts SDK failures into model.UpstreamError, keeping the
// service error code, HTTP status and request id.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if _, ok := modelpkg.AsUpstream(err); ok {
		return err
	}
	ue := &modelpkg.UpstreamError{Provider: ProviderName, Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		ue.Code = apiErr.ErrorCode()
		ue.Message = apiErr.ErrorMessage()
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		ue.Status = respErr.HTTPStatusCode()
		ue.RequestID = respErr.ServiceRequestID()
	}
	if ue.Message == "" {
		ue.Message = err.Error()
	}
	return ue
}
