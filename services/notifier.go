package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"paper-scout/config"
	"paper-scout/models"
	"paper-scout/storage"
)

// locale holds the translatable strings of the outgoing mails, keyed by the
// user's language with English as the fallback.
type locale struct {
	digestSubject string
	digestIntro   string
	codeSubject   string
	// codeBody is a format string taking the code and the TTL in minutes.
	codeBody string
}

var locales = map[string]locale{
	"en": {
		digestSubject: "New papers matching your filters",
		digestIntro:   "The following papers matched your filters:",
		codeSubject:   "Your verification code",
		codeBody:      "<p>Your verification code is <b>%s</b>. It expires in %d minutes.</p>",
	},
	"de": {
		digestSubject: "Neue Paper zu Ihren Filtern",
		digestIntro:   "Die folgenden Paper entsprechen Ihren Filtern:",
		codeSubject:   "Ihr Verifizierungscode",
		codeBody:      "<p>Ihr Verifizierungscode lautet <b>%s</b>. Er ist %d Minuten lang gültig.</p>",
	},
}

func localize(lang string) locale {
	if l, ok := locales[lang]; ok {
		return l
	}
	return locales["en"]
}

const digestTemplate = `<!DOCTYPE html>
<html>
    <body>
        <p>{{ .Intro }}</p>
        {{ range .Groups }}
        <h3>{{ .Filter }}</h3>
        <ul>
            {{ range .Papers }}
            <li>
                <a href="{{ .Link }}">{{ .Title }}</a>
                {{ if .Summary }}<br/><em>{{ .Summary }}</em>{{ end }}
                {{ if .Abstract }}<br/>{{ .Abstract }}{{ end }}
            </li>
            {{ end }}
        </ul>
        {{ end }}
    </body>
</html>
`

var digestTmpl = template.Must(template.New("digest").Parse(digestTemplate))

// digestGroup is one filter's section of a digest email.
type digestGroup struct {
	Filter string
	Papers []models.MatchRecord
}

// NotifierService emails each user a digest of their new matches and flips
// the delivered records to old.
type NotifierService struct {
	cfg     *config.Config
	catalog Catalog
	filters *storage.FilterStore
	logger  *zap.Logger

	// send is swapped in tests; the default goes through SMTP.
	send func(to, subject, body string) error
}

// NewNotifierService builds the notifier.
func NewNotifierService(cfg *config.Config, catalog Catalog, filters *storage.FilterStore, logger *zap.Logger) *NotifierService {
	n := &NotifierService{
		cfg:     cfg,
		catalog: catalog,
		filters: filters,
		logger:  logger,
	}
	n.send = n.sendSMTP
	return n
}

// RunAll sends a digest to every user with pending matches and returns the
// number of digests sent. One user's failure never blocks the rest.
func (n *NotifierService) RunAll(ctx context.Context) (int, error) {
	if n.cfg.SMTPFrom == "" {
		n.logger.Info("SMTP sender not configured, skipping notifications")
		return 0, nil
	}

	users, err := n.catalog.Users(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	sent := 0
	for _, user := range users {
		if user.Email == "" {
			continue
		}
		delivered, err := n.notifyUser(user)
		if err != nil {
			n.logger.Error("Digest failed", zap.Uint("user_id", user.ID), zap.Error(err))
			continue
		}
		if delivered {
			sent++
		}
	}
	return sent, nil
}

// notifyUser reads the user's new matches, sends the digest, and marks the
// records old only after the send succeeded. A failed send leaves every
// label as new, so the next cycle retries the same digest.
func (n *NotifierService) notifyUser(user models.User) (bool, error) {
	store, err := storage.OpenMatchStore(n.filters.MatchDBPath(user.ID))
	if err != nil {
		return false, fmt.Errorf("open match store: %w", err)
	}
	defer store.Close()

	records, err := store.NewRecords()
	if err != nil {
		return false, fmt.Errorf("read new records: %w", err)
	}
	if len(records) == 0 {
		return false, nil
	}

	loc := localize(user.Lang)
	body, err := renderDigest(records, loc)
	if err != nil {
		return false, fmt.Errorf("render digest: %w", err)
	}
	if err := n.send(user.Email, loc.digestSubject, body); err != nil {
		return false, fmt.Errorf("send digest: %w", err)
	}

	flipped, err := store.MarkAllOld()
	if err != nil {
		return true, fmt.Errorf("mark records old: %w", err)
	}
	n.logger.Info("Digest sent",
		zap.Uint("user_id", user.ID), zap.Int("papers", flipped))
	return true, nil
}

// SendVerificationCode mails a registration code to an address that is not
// yet verified, in the user's language.
func (n *NotifierService) SendVerificationCode(to, lang, code string) error {
	if n.cfg.SMTPFrom == "" {
		return fmt.Errorf("smtp sender not configured")
	}
	loc := localize(lang)
	body := fmt.Sprintf(loc.codeBody, code, n.cfg.VerificationCodeTTLMinutes)
	return n.send(to, loc.codeSubject, body)
}

// renderDigest groups the records by the filter that produced them and
// renders the HTML body.
func renderDigest(records []models.MatchRecord, loc locale) (string, error) {
	byFilter := make(map[string][]models.MatchRecord)
	for _, rec := range records {
		name := rec.SourceFilter
		if name == "" {
			name = "unknown"
		}
		byFilter[name] = append(byFilter[name], rec)
	}

	names := make([]string, 0, len(byFilter))
	for name := range byFilter {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]digestGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, digestGroup{Filter: name, Papers: byFilter[name]})
	}

	var buf bytes.Buffer
	data := struct {
		Intro  string
		Groups []digestGroup
	}{Intro: loc.digestIntro, Groups: groups}
	if err := digestTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (n *NotifierService) sendSMTP(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	auth := smtp.PlainAuth("", n.cfg.SMTPFrom, n.cfg.SMTPPassword, n.cfg.SMTPHost)

	headers := strings.Join([]string{
		"From: " + n.cfg.SMTPFrom,
		"To: " + to,
		"Subject: " + subject,
		"MIME-version: 1.0;",
		`Content-Type: text/html; charset="UTF-8";`,
	}, "\r\n")
	msg := []byte(headers + "\r\n\r\n" + body)

	return smtp.SendMail(addr, auth, n.cfg.SMTPFrom, []string{to}, msg)
}
