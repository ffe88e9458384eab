// Package lti validates LTI 1.0 basic launch requests.
package lti

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/upem-wims/wims-lti/platform/go/problems"
)

const (
	MessageTypeBasicLaunch = "basic-lti-launch-request"
	VersionLTI1            = "LTI-1p0"
	SignatureMethodHMAC    = "HMAC-SHA1"
)

// RequiredParams lists the parameters every launch must carry, in reporting order.
var RequiredParams = []string{
	"lti_message_type",
	"lti_version",
	"resource_link_id",
	"context_id",
	"user_id",
	"roles",
	"oauth_consumer_key",
	"oauth_signature_method",
	"oauth_timestamp",
	"oauth_nonce",
	"oauth_signature",
}

// Launch is one parsed inbound launch. Build it with Parse; it is never modified afterwards.
type Launch struct {
	MessageType string
	Version     string

	ResourceLinkID    string
	ResourceLinkTitle string
	ContextID         string
	ContextTitle      string

	UserID     string
	Roles      Roles
	Email      string
	GivenName  string
	FamilyName string
	Locale     string

	OutcomeServiceURL string
	ResultSourcedID   string

	ConsumerGUID        string
	ConsumerDescription string

	ConsumerKey     string
	SignatureMethod string
	Timestamp       string
	Nonce           string
	Signature       string

	params url.Values
}

// Parse checks the required parameters, the message type and the version, then builds a Launch.
// Missing parameters are all reported at once and take precedence over a bad message type.
func Parse(params url.Values) (Launch, error) {
	get := func(key string) string { return strings.TrimSpace(params.Get(key)) }

	var missing []string
	for _, key := range RequiredParams {
		if get(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Launch{}, problems.New(problems.ErrInvalidLaunch,
			"LTI request is invalid, missing parameter(s): %s", strings.Join(missing, ", "))
	}

	if v := get("lti_message_type"); v != MessageTypeBasicLaunch {
		return Launch{}, problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, unsupported lti_message_type '%s'", v)
	}
	if v := get("lti_version"); v != VersionLTI1 {
		return Launch{}, problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, unsupported lti_version '%s'", v)
	}
	if v := get("oauth_signature_method"); v != SignatureMethodHMAC {
		return Launch{}, problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, unsupported oauth_signature_method '%s'", v)
	}

	copied := make(url.Values, len(params))
	for k, v := range params {
		copied[k] = append([]string(nil), v...)
	}

	return Launch{
		MessageType:         get("lti_message_type"),
		Version:             get("lti_version"),
		ResourceLinkID:      get("resource_link_id"),
		ResourceLinkTitle:   get("resource_link_title"),
		ContextID:           get("context_id"),
		ContextTitle:        get("context_title"),
		UserID:              get("user_id"),
		Roles:               ParseRoles(get("roles")),
		Email:               get("lis_person_contact_email_primary"),
		GivenName:           get("lis_person_name_given"),
		FamilyName:          get("lis_person_name_family"),
		Locale:              get("launch_presentation_locale"),
		OutcomeServiceURL:   get("lis_outcome_service_url"),
		ResultSourcedID:     get("lis_result_sourcedid"),
		ConsumerGUID:        get("tool_consumer_instance_guid"),
		ConsumerDescription: get("tool_consumer_instance_description"),
		ConsumerKey:         get("oauth_consumer_key"),
		SignatureMethod:     get("oauth_signature_method"),
		Timestamp:           get("oauth_timestamp"),
		Nonce:               get("oauth_nonce"),
		Signature:           params.Get("oauth_signature"),
		params:              copied,
	}, nil
}

// Params returns a copy of the raw parameters the launch was signed with.
func (l Launch) Params() url.Values {
	out := make(url.Values, len(l.params))
	for k, v := range l.params {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// HasOutcome reports whether the LMS expects scores back for this launch.
func (l Launch) HasOutcome() bool {
	return l.OutcomeServiceURL != "" && l.ResultSourcedID != ""
}

// Language is the two-letter language of launch_presentation_locale, or "" when absent.
func (l Launch) Language() string {
	locale := strings.ToLower(l.Locale)
	if len(locale) < 2 {
		return ""
	}
	return locale[:2]
}

// DisplayName is "Given Family" falling back to the user id.
func (l Launch) DisplayName() string {
	name := strings.TrimSpace(l.GivenName + " " + l.FamilyName)
	if name == "" {
		return l.UserID
	}
	return name
}

// CheckMethod accepts only POST on a trailing-slash route. GET, and any request that missed
// the slash, get a hint since that usually means a browser followed a bare link.
func CheckMethod(method string, trailingSlash bool) error {
	if method == http.MethodPost && trailingSlash {
		return nil
	}
	msg := "405 Method Not Allowed: '" + method + "'"
	if method == http.MethodGet || !trailingSlash {
		msg += ". Did you forget trailing '/' ?"
	}
	return problems.New(problems.ErrMethodNotAllowed, "%s", msg)
}
