package notification

import (
	"sort"
	"strings"
)

// Message templates. Placeholders are written as {name}.
const (
	TemplateCodeIssued    = "code_issued"
	TemplateParcelArrived = "parcel_arrived"
	TemplateParcelExpired = "parcel_expired"
	TemplateEventCanceled = "event_canceled"
	TemplateReceipt       = "receipt"
	TemplateRefund        = "refund"
	TemplatePenalty       = "penalty"
	TemplateServiceReady  = "service_ready"
	TemplateAutoCanceled  = "auto_canceled"
)

var templates = map[string]string{
	TemplateCodeIssued:    "Your access code for {device} is {code}.",
	TemplateParcelArrived: "A parcel is waiting for you in {device}. Pickup code: {code}.",
	TemplateParcelExpired: "Your parcel in {device} was not picked up in time and has been returned.",
	TemplateEventCanceled: "Your reservation of {device} was canceled.",
	TemplateReceipt:       "You were charged {amount} {currency} for {device}.",
	TemplateRefund:        "{amount} {currency} was refunded to you.",
	TemplatePenalty:       "A fee of {amount} {currency} was charged: {reason}.",
	TemplateServiceReady:  "Your order is ready for pickup in {device}. Code: {code}.",
	TemplateAutoCanceled:  "Your reservation of {device} was canceled because payment was not confirmed in time.",
}

// TemplateNames lists every message a subscriber can receive, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render fills the named template. Unknown templates render the arguments
// alone so a message is never lost.
func Render(name string, args map[string]string) string {
	text, ok := templates[name]
	if !ok {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+args[k])
		}
		return name + ": " + strings.Join(parts, " ")
	}

	pairs := make([]string, 0, 2*len(args))
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
