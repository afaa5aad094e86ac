package reconcile

import (
	"encoding/json"
	"strings"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
)

// Rule names, in precedence order. The first rule that matches decides.
const (
	RuleLocalActivated      = "local-activated"
	RuleProviderActivated   = "provider-activated"
	RuleProviderGotResource = "provider-got-resource"
	RuleLocalFallback       = "local-fallback"
)

// Precedence is the documented evaluation order of Classify.
var Precedence = []string{
	RuleLocalActivated,
	RuleProviderActivated,
	RuleProviderGotResource,
	RuleLocalFallback,
}

var providerActivated = map[string]bool{
	"ENABLED":   true,
	"IN_USE":    true,
	"ACTIVATED": true,
	"ONBOARD":   true,
}

var fallbackMessages = map[domain.EsimStatus]string{
	domain.StatusPending:              "Provisioning in progress",
	domain.StatusWaitingForActivation: "Waiting for the employee to install the eSIM",
	domain.StatusCancelled:            "Plan cancelled",
	domain.StatusError:                "Provisioning failed",
	domain.StatusExpired:              "Plan expired",
	domain.StatusDepleted:             "Data allowance used up",
}

// Input is everything the classifier may look at.
type Input struct {
	LocalStatus string
	Metadata    json.RawMessage
}

// InputOf builds the classifier input for a stored record.
func InputOf(e *domain.PurchasedEsim) Input {
	return Input{LocalStatus: string(e.Status), Metadata: e.Metadata}
}

// Classify maps one record to its effective status. It is total: malformed metadata
// only disables the provider rules.
func Classify(in Input) domain.Classification {
	local := strings.ToLower(strings.TrimSpace(in.LocalStatus))
	out := domain.Classification{LocalStatus: in.LocalStatus}

	if local == string(domain.StatusActivated) || local == string(domain.StatusActive) {
		out.Status, out.Rule, out.Message = domain.StatusActivated, RuleLocalActivated, "Active"
		return out
	}

	snap := readSnapshot(domain.DecodeMetadata(in.Metadata))
	esimStatus := strings.ToUpper(snap.esimStatus)
	smdpStatus := strings.ToUpper(snap.smdpStatus)

	if providerActivated[esimStatus] || providerActivated[smdpStatus] {
		out.Status, out.Rule, out.Message = domain.StatusActivated, RuleProviderActivated, "Active"
		return out
	}

	if esimStatus == "GOT_RESOURCE" && snap.qrCodeURL != "" && snap.activationCode != "" {
		out.Status = domain.StatusWaitingForActivation
		out.Rule = RuleProviderGotResource
		out.Message = fallbackMessages[domain.StatusWaitingForActivation]
		return out
	}

	out.Rule = RuleLocalFallback
	if msg, ok := fallbackMessages[domain.EsimStatus(local)]; ok {
		out.Status, out.Message = domain.EsimStatus(local), msg
		return out
	}
	out.Status = domain.StatusUnknown
	out.Message = "Unknown status"
	if in.LocalStatus != "" {
		out.Message = "Unknown status: " + in.LocalStatus
	}
	return out
}

// ActivationDetails returns the QR URL and activation code known for a record.
func ActivationDetails(metadata json.RawMessage) (qrCodeURL, activationCode string) {
	snap := readSnapshot(domain.DecodeMetadata(metadata))
	return snap.qrCodeURL, snap.activationCode
}

// EsimTranNo returns the provider's per-profile transaction number, if known.
func EsimTranNo(metadata json.RawMessage) string {
	return readSnapshot(domain.DecodeMetadata(metadata)).esimTranNo
}
