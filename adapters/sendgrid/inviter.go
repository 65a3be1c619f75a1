// Package sendgrid delivers tenant invitations by email.
package sendgrid

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/tenant"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	defaultHost     = "https://api.sendgrid.com"
	defaultEndpoint = "/v3/mail/send"
)

// Config configures the Inviter.
type Config struct {
	APIKey    string
	FromName  string
	FromEmail string
	// AcceptURL is linked from the email, the tenant id is appended as the
	// tenant query parameter.
	AcceptURL string
	// Host overrides the API host (useful for tests).
	Host string
}

// Inviter sends tenant invitations through the SendGrid v3 mail API.
type Inviter struct {
	key        string
	host       string
	from       *sgmail.Email
	subjPrefix string
	acceptURL  string
	logger     auth.Logger
}

var _ tenant.Inviter = (*Inviter)(nil)

// NewInviter returns an Inviter for cfg.
func NewInviter(cfg Config, logger auth.Logger) *Inviter {
	if logger == nil {
		logger = auth.DefaultLogger()
	}

	host := cfg.Host
	if host == "" {
		host = defaultHost
	}

	prefix := ""
	if cfg.FromName != "" {
		prefix = "[" + cfg.FromName + "] "
	}

	return &Inviter{
		key:        cfg.APIKey,
		host:       host,
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		subjPrefix: prefix,
		acceptURL:  cfg.AcceptURL,
		logger:     logger,
	}
}

// Invite implements tenant.Inviter.
func (i *Inviter) Invite(ctx context.Context, invitation tenant.Invitation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(i.key, defaultEndpoint, i.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(i.prepare(invitation))

	res, err := sendgrid.API(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "sendgrid request failed")
	}

	if res.StatusCode >= http.StatusBadRequest {
		i.logger.Error("sendgrid rejected invitation", "status", res.StatusCode, "body", res.Body)
		return goerrors.New(fmt.Sprintf("sendgrid responded with status %d", res.StatusCode), goerrors.CategoryOperation).
			WithMetadata(map[string]any{"status": res.StatusCode})
	}

	i.logger.Info("invitation sent", "tenant_id", invitation.TenantID, "email", invitation.Email)

	return nil
}

func (i *Inviter) prepare(invitation tenant.Invitation) *sgmail.SGMailV3 {
	tenantName := invitation.TenantName
	if tenantName == "" {
		tenantName = invitation.TenantID
	}

	p := sgmail.NewPersonalization()
	p.Subject = i.subjPrefix + "You have been invited to " + tenantName
	p.AddTos(sgmail.NewEmail("", invitation.Email))

	link := i.link(invitation)
	role := invitation.Role.Label()

	text := fmt.Sprintf("You have been invited to join %s as %s.", tenantName, role)
	markup := fmt.Sprintf("<p>You have been invited to join <strong>%s</strong> as %s.</p>",
		html.EscapeString(tenantName), html.EscapeString(role))
	if link != "" {
		text += "\n\nAccept the invitation: " + link
		markup += fmt.Sprintf(`<p><a href="%s">Accept the invitation</a></p>`, html.EscapeString(link))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(i.from)
	m.AddPersonalizations(p)
	m.AddContent(
		sgmail.NewContent("text/plain", text),
		sgmail.NewContent("text/html", markup),
	)

	return m
}

func (i *Inviter) link(invitation tenant.Invitation) string {
	if i.acceptURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(i.acceptURL, "?") {
		sep = "&"
	}
	return i.acceptURL + sep + "tenant=" + url.QueryEscape(invitation.TenantID)
}
