package scanning

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/inventory"
	"github.com/anstrom/netinventory/internal/status"
)

// ScanRequest describes a single scan invocation. It is not modified once
// the orchestrator accepts it.
type ScanRequest struct {
	// Targets is the ordered list of IPv4 addresses and CIDR ranges to sweep
	Targets []string `validate:"required,min=1,dive,ipv4|cidrv4"`
	// Profile selects probe depth and concurrency
	Profile inventory.Profile `validate:"required"`
	// OutputDir receives the status, result and cancel artifacts
	OutputDir string `validate:"required"`
}

var validate = validator.New()

// ParseTargets splits a comma separated target specification. Blank
// entries are dropped and surrounding whitespace is trimmed.
func ParseTargets(spec string) []string {
	parts := strings.Split(spec, ",")
	targets := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			targets = append(targets, p)
		}
	}
	return targets
}

// NewScanRequest builds and validates a request from raw CLI arguments.
func NewScanRequest(targetSpec, profileName, outputDir string) (ScanRequest, error) {
	profile, err := inventory.ParseProfile(profileName)
	if err != nil {
		e := errors.ErrInvalidProfile(profileName)
		e.Cause = err
		return ScanRequest{}, e
	}

	req := ScanRequest{
		Targets:   ParseTargets(targetSpec),
		Profile:   profile,
		OutputDir: outputDir,
	}
	if err := req.Validate(); err != nil {
		return ScanRequest{}, err
	}
	return req, nil
}

// Validate checks the request. Invalid targets report CodeTargetInvalid,
// an unknown profile CodeProfileInvalid.
func (r ScanRequest) Validate() error {
	if _, err := inventory.ParseProfile(string(r.Profile)); err != nil {
		e := errors.ErrInvalidProfile(string(r.Profile))
		e.Cause = err
		return e
	}

	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns the concrete type
	if !ok || len(fieldErrs) == 0 {
		return errors.WrapScanError(errors.CodeValidation, "invalid scan request", err)
	}

	fe := fieldErrs[0]
	switch {
	case strings.HasPrefix(fe.StructField(), "Targets"):
		target := fmt.Sprint(fe.Value())
		if len(r.Targets) == 0 {
			target = ""
		}
		e := errors.ErrInvalidTarget(target)
		e.Cause = fmt.Errorf("target must be an IPv4 address or CIDR range (failed %q)", fe.Tag())
		return e
	default:
		return errors.WrapScanError(errors.CodeValidation,
			fmt.Sprintf("invalid scan request: %s is %s", strings.ToLower(fe.Field()), fe.Tag()), err)
	}
}

// Outcome summarizes a finished scan.
type Outcome struct {
	// ScanID identifies the run in logs and in the status artifact
	ScanID string
	// State is the terminal lifecycle state
	State status.State
	// Hosts holds the written results; empty unless State is Completed
	Hosts []inventory.HostFacts
	// Status is the last status the reporter recorded
	Status status.ScanStatus
}
