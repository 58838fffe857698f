package mail

import (
	"net/url"
	"strings"
)

// Record is the canonical mail shape returned to clients.
type Record struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Recipients  []string     `json:"recipients"`
	To          []string     `json:"to"`
	ToList      []string     `json:"toList"`
	ToAddress   *string      `json:"toAddress"`
	ToPrimary   *string      `json:"toPrimary"`
	ToDisplay   string       `json:"toDisplay"`
	CC          string       `json:"cc,omitempty"`
	CCList      []string     `json:"ccList,omitempty"`
	BCC         string       `json:"bcc,omitempty"`
	BCCList     []string     `json:"bccList,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	BodyText    string       `json:"bodyText"`
	BodyHTML    string       `json:"bodyHtml"`
	Preview     string       `json:"preview"`
	Folder      string       `json:"folder"`
	Date        string       `json:"date,omitempty"`
	CreatedAt   string       `json:"createdAt,omitempty"`
	UpdatedAt   string       `json:"updatedAt,omitempty"`
	Read        bool         `json:"read"`
	Important   bool         `json:"important"`
	Tags        []string     `json:"tags,omitempty"`
	OwnerUID    string       `json:"ownerUid,omitempty"`
	TrashMeta   *TrashMeta   `json:"trashMeta,omitempty"`
	Attachments []Attachment `json:"attachments"`

	stored []StoredAttachment
}

// Attachment describes an attachment and the routes serving it.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	SignedURL   string `json:"signedUrl"`
}

// Timestamp is the value records are ordered and paginated by.
func (r Record) Timestamp() string {
	if r.Date != "" {
		return r.Date
	}
	return r.CreatedAt
}

// StoredAttachment returns the persisted form of attachment id.
func (r Record) StoredAttachment(id string) (StoredAttachment, bool) {
	for _, a := range r.stored {
		if a.ID == id {
			return a, true
		}
	}
	return StoredAttachment{}, false
}

// Format builds the canonical record from any stored shape. It never fails;
// malformed input degrades to empty or default values.
func Format(raw RawMail) Record {
	rec := Record{
		ID:        raw.ID,
		From:      raw.From,
		Subject:   raw.Subject,
		Folder:    raw.Folder,
		Date:      raw.Date,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
		Read:      raw.Read,
		Important: raw.Important,
		Tags:      cloneStrings(raw.Tags),
		OwnerUID:  raw.OwnerUID,
		TrashMeta: raw.TrashMeta.Clone(),
		stored:    append([]StoredAttachment(nil), raw.Attachments...),
	}

	// Recipients, then to/toList.
	recipients := raw.Recipients.Addresses()
	if len(recipients) == 0 {
		if raw.ToList.IsAbsent() {
			recipients = raw.To.Addresses()
		} else {
			recipients = raw.ToList.Addresses()
		}
	}

	var to []string
	switch {
	case raw.To.IsList():
		to = raw.To.Addresses()
	case !raw.ToList.IsAbsent():
		to = raw.ToList.Addresses()
	default:
		to = recipients
	}
	if len(to) == 0 {
		to = recipients
	}
	if len(recipients) == 0 {
		recipients = to
	}

	rec.Recipients = cloneNonNil(recipients)
	rec.ToList = cloneNonNil(to)
	rec.To = cloneNonNil(to)
	if len(to) > 0 {
		first := to[0]
		primary := to[0]
		rec.ToAddress = &first
		rec.ToPrimary = &primary
	}
	rec.ToDisplay = strings.Join(to, ", ")

	// Bodies.
	switch {
	case raw.BodyText != nil:
		rec.BodyText = *raw.BodyText
	case raw.Body != nil:
		rec.BodyText = *raw.Body
	}
	rec.Body = rec.BodyText
	if raw.Body != nil {
		rec.Body = *raw.Body
	}
	if raw.BodyHTML != nil && strings.TrimSpace(*raw.BodyHTML) != "" {
		rec.BodyHTML = *raw.BodyHTML
	} else {
		rec.BodyHTML = TextToHTML(rec.BodyText)
	}
	rec.Preview = Preview(rec.BodyText, rec.BodyHTML)

	// Carbon copies.
	rec.CCList, rec.CC = copyList(raw.CCList, raw.CC)
	rec.BCCList, rec.BCC = copyList(raw.BCCList, raw.BCC)

	// Defaults.
	if rec.CreatedAt == "" {
		rec.CreatedAt = raw.Date
	}
	if rec.UpdatedAt == "" {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Folder == "" {
		rec.Folder = FolderInbox
	}

	rec.Attachments = make([]Attachment, 0, len(raw.Attachments))
	for _, a := range raw.Attachments {
		rec.Attachments = append(rec.Attachments, describeAttachment(raw.ID, a))
	}
	return rec
}

// Raw converts the record back into a stored shape. Format(r.Raw()) equals r
// for any r produced by Format.
func (r Record) Raw() RawMail {
	body := r.Body
	bodyText := r.BodyText
	bodyHTML := r.BodyHTML
	raw := RawMail{
		ID:          r.ID,
		From:        r.From,
		To:          StringList(r.To),
		ToList:      StringList(r.ToList),
		Recipients:  StringList(r.Recipients),
		Subject:     r.Subject,
		Body:        &body,
		BodyText:    &bodyText,
		BodyHTML:    &bodyHTML,
		Folder:      r.Folder,
		Date:        r.Date,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Read:        r.Read,
		Important:   r.Important,
		Tags:        cloneStrings(r.Tags),
		OwnerUID:    r.OwnerUID,
		TrashMeta:   r.TrashMeta.Clone(),
		Attachments: append([]StoredAttachment(nil), r.stored...),
	}
	if r.CCList != nil {
		raw.CCList = StringList(r.CCList)
	}
	if r.CC != "" {
		raw.CC = Single(r.CC)
	}
	if r.BCCList != nil {
		raw.BCCList = StringList(r.BCCList)
	}
	if r.BCC != "" {
		raw.BCC = Single(r.BCC)
	}
	return raw
}

// copyList parses a cc/bcc pair. The list form wins when present; the
// string form is kept as stored or derived by joining the list.
func copyList(list, single AddressField) ([]string, string) {
	var parsed []string
	if !list.IsAbsent() {
		parsed = list.Addresses()
	} else {
		parsed = single.Addresses()
	}
	if len(parsed) == 0 {
		return nil, ""
	}
	if s, ok := single.Text(); ok && strings.TrimSpace(s) != "" {
		return parsed, s
	}
	return parsed, strings.Join(parsed, ", ")
}

func describeAttachment(mailID string, a StoredAttachment) Attachment {
	base := "/api/mail/" + url.PathEscape(mailID) + "/attachments/" + url.PathEscape(a.ID)
	filename := a.Filename
	if filename == "" {
		filename = "attachment"
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Attachment{
		ID:          a.ID,
		Filename:    filename,
		ContentType: contentType,
		Size:        a.Size,
		URL:         base,
		SignedURL:   base + "/url",
	}
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// TextToHTML escapes &, < and > and turns newlines into <br>.
func TextToHTML(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = htmlEscaper.Replace(line)
	}
	return strings.Join(lines, "<br>")
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneNonNil(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
