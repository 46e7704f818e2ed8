// Package agent holds voice agent definitions and their storage.
package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when no agent has the requested ID
	ErrNotFound = errors.New("agent not found")
	// ErrInvalidCallFlow is returned when the call flow is not a JSON object
	// of string keywords to string responses
	ErrInvalidCallFlow = errors.New("call flow must be a JSON object of string to string")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Agent is a configured voice agent
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name" validate:"required,max=100"`
	Persona       string    `json:"persona" validate:"required,max=20000"`
	KnowledgeBase string    `json:"knowledgeBase" validate:"max=50000"`
	Greeting      string    `json:"greeting" validate:"max=1000"`
	CallFlow      string    `json:"callFlow"`
	PhoneNumber   string    `json:"phoneNumber" validate:"omitempty,e164"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SystemInstruction is the persona followed by the knowledge base.
func (a Agent) SystemInstruction() string {
	if a.KnowledgeBase == "" {
		return a.Persona
	}
	return a.Persona + "\n" + a.KnowledgeBase
}

// Flow parses the call flow. An empty call flow is an empty map.
func (a Agent) Flow() (map[string]string, error) {
	flow := map[string]string{}
	if strings.TrimSpace(a.CallFlow) == "" {
		return flow, nil
	}
	if err := sonic.UnmarshalString(a.CallFlow, &flow); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallFlow, err)
	}
	return flow, nil
}

// ValidationError lists the fields that failed validation
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+" "+msg)
	}
	sort.Strings(parts)
	return "invalid agent: " + strings.Join(parts, "; ")
}

// Is matches ErrInvalidCallFlow when the call flow was rejected
func (e *ValidationError) Is(target error) bool {
	_, bad := e.Fields["callFlow"]
	return target == ErrInvalidCallFlow && bad
}

// Validate checks field constraints and the call flow shape.
func Validate(a Agent) error {
	verr := &ValidationError{Fields: map[string]string{}}

	if err := validate.Struct(a); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, e := range fieldErrs {
			verr.Fields[lowerFirst(e.Field())] = formatValidationMessage(e)
		}
	}

	if _, err := a.Flow(); err != nil {
		verr.Fields["callFlow"] = "must be a JSON object of string to string"
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "e164":
		return "must be an E.164 phone number"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
