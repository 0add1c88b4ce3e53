package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nhalm/ratekit/limitcfg"
	"github.com/nhalm/ratekit/service"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
		return fld.Name
	})
}

type checkRequest struct {
	Key      string `json:"key" validate:"required"`
	Tokens   int64  `json:"tokens" validate:"omitempty,min=1"`
	ClientIP string `json:"clientIp,omitempty" validate:"omitempty,ip"`
	Endpoint string `json:"endpoint,omitempty"`
}

type configRequest struct {
	Algorithm           string  `json:"algorithm" validate:"required,oneof=TOKEN_BUCKET SLIDING_WINDOW SLIDING_WINDOW_COUNTER FIXED_WINDOW LEAKY_BUCKET"`
	Capacity            int64   `json:"capacity" validate:"required,gt=0"`
	RefillRate          float64 `json:"refillRate" validate:"required,gt=0"`
	RefillPeriodSeconds int64   `json:"refillPeriodSeconds" validate:"required,gt=0"`
	Priority            *int    `json:"priority" validate:"omitempty,gte=0"`
}

// toConfig maps the request body onto the model. An absent priority becomes
// -1 so the resolver auto-computes it for patterns.
func (c configRequest) toConfig() limitcfg.Config {
	priority := -1
	if c.Priority != nil {
		priority = *c.Priority
	}
	return limitcfg.Config{
		Algorithm:           limitcfg.Algorithm(c.Algorithm),
		Capacity:            c.Capacity,
		RefillRate:          c.RefillRate,
		RefillPeriodSeconds: c.RefillPeriodSeconds,
		Priority:            priority,
	}
}

type checkMetadata struct {
	Key            string `json:"key"`
	MatchedPattern string `json:"matchedPattern,omitempty"`
	LatencyMicros  int64  `json:"latencyMicros"`
}

type checkResponse struct {
	Allowed           bool           `json:"allowed"`
	RemainingTokens   int64          `json:"remainingTokens"`
	ResetTime         string         `json:"resetTime,omitempty"`
	RetryAfterSeconds *int64         `json:"retryAfterSeconds,omitempty"`
	Algorithm         string         `json:"algorithm,omitempty"`
	Metadata          *checkMetadata `json:"metadata,omitempty"`
}

func newCheckResponse(result *service.Result) checkResponse {
	resp := checkResponse{
		Allowed:         result.Allowed,
		RemainingTokens: result.Remaining,
		Algorithm:       string(result.Algorithm),
		Metadata: &checkMetadata{
			Key:            result.Key,
			MatchedPattern: result.MatchedPattern,
			LatencyMicros:  result.LatencyMicros,
		},
	}
	if !result.ResetAt.IsZero() {
		resp.ResetTime = result.ResetAt.UTC().Format(time.RFC3339)
	}
	if !result.Allowed {
		retryAfter := int64(result.RetryAfter / time.Second)
		resp.RetryAfterSeconds = &retryAfter
	}
	return resp
}

// bindJSON decodes and validates a request body. On failure it writes the
// error response and reports false.
func bindJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, ErrBadRequest.With("Invalid JSON body"))
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]FieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, FieldError{
					Param:   fe.Field(),
					Code:    fe.Tag(),
					Message: fieldMessage(fe),
				})
			}
			writeError(w, ErrValidation.WithFields(fields))
			return false
		}
		writeError(w, ErrBadRequest.With("Invalid request body"))
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "ip":
		return "must be a valid IP address"
	default:
		return "invalid value"
	}
}
