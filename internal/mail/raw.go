package mail

import (
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// System folders.
const (
	FolderInbox  = "inbox"
	FolderSent   = "sent"
	FolderTrash  = "trash"
	FolderDrafts = "drafts"
	FolderSpam   = "spam"

	// FolderAll is the pseudo-folder spanning inbox, sent and trash.
	FolderAll = "all"
)

// AggregateFolders are the folders merged by an "all" listing.
var AggregateFolders = []string{FolderInbox, FolderSent, FolderTrash}

// IsSystemFolder reports whether folder is one of the built-in folders.
func IsSystemFolder(folder string) bool {
	switch folder {
	case FolderInbox, FolderSent, FolderTrash, FolderDrafts, FolderSpam:
		return true
	}
	return false
}

// TrashMeta records where a trashed mail came from and who moved it.
type TrashMeta struct {
	PreviousFolder  string   `json:"previousFolder,omitempty"`
	PreviousFolders []string `json:"previousFolders,omitempty"`
	OwnerEmail      string   `json:"ownerEmail,omitempty"`
	MovedAt         string   `json:"movedAt,omitempty"`
	MovedBy         string   `json:"movedBy,omitempty"`
	RestoredAt      string   `json:"restoredAt,omitempty"`
	RestoredTo      string   `json:"restoredTo,omitempty"`
}

// IsZero reports whether no field is set.
func (m TrashMeta) IsZero() bool {
	return m.PreviousFolder == "" && len(m.PreviousFolders) == 0 && m.OwnerEmail == "" &&
		m.MovedAt == "" && m.MovedBy == "" && m.RestoredAt == "" && m.RestoredTo == ""
}

// Clone returns a deep copy.
func (m *TrashMeta) Clone() *TrashMeta {
	if m == nil {
		return nil
	}
	c := *m
	if m.PreviousFolders != nil {
		c.PreviousFolders = append([]string(nil), m.PreviousFolders...)
	}
	return &c
}

// StoredAttachment is an attachment as persisted on the mail document:
// either inline base64 Data or a Path into the attachment bucket.
type StoredAttachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	Path        string
	Data        string
}

// RawMail is a mail document in any of its historical shapes. Pointer
// strings distinguish a missing field from an empty one.
type RawMail struct {
	ID          string
	From        string
	To          AddressField
	ToList      AddressField
	Recipients  AddressField
	CC          AddressField
	CCList      AddressField
	BCC         AddressField
	BCCList     AddressField
	Subject     string
	Body        *string
	BodyText    *string
	BodyHTML    *string
	Folder      string
	Date        string
	CreatedAt   string
	UpdatedAt   string
	Read        bool
	Important   bool
	Tags        []string
	OwnerUID    string
	TrashMeta   *TrashMeta
	Attachments []StoredAttachment
}

// Timestamp is the value mails are ordered and paginated by.
func (m RawMail) Timestamp() string {
	if m.Date != "" {
		return m.Date
	}
	return m.CreatedAt
}

// RecipientAddresses returns recipients, falling back to toList then to.
func (m RawMail) RecipientAddresses() []string {
	for _, f := range []AddressField{m.Recipients, m.ToList, m.To} {
		if addrs := f.Addresses(); len(addrs) > 0 {
			return addrs
		}
	}
	return []string{}
}

// DecodeItem builds a RawMail from a DynamoDB item. Unknown or mistyped
// attributes are ignored.
func DecodeItem(item map[string]types.AttributeValue) RawMail {
	return RawMail{
		ID:          stringAttr(item, "id"),
		From:        stringAttr(item, "from"),
		To:          decodeAddressField(item["to"]),
		ToList:      decodeAddressField(item["toList"]),
		Recipients:  decodeAddressField(item["recipients"]),
		CC:          decodeAddressField(item["cc"]),
		CCList:      decodeAddressField(item["ccList"]),
		BCC:         decodeAddressField(item["bcc"]),
		BCCList:     decodeAddressField(item["bccList"]),
		Subject:     stringAttr(item, "subject"),
		Body:        optionalStringAttr(item, "body"),
		BodyText:    optionalStringAttr(item, "bodyText"),
		BodyHTML:    optionalStringAttr(item, "bodyHtml"),
		Folder:      stringAttr(item, "folder"),
		Date:        stringAttr(item, "date"),
		CreatedAt:   stringAttr(item, "createdAt"),
		UpdatedAt:   stringAttr(item, "updatedAt"),
		Read:        boolAttr(item, "read"),
		Important:   boolAttr(item, "important"),
		Tags:        stringListAttr(item["tags"]),
		OwnerUID:    stringAttr(item, "ownerUid"),
		TrashMeta:   decodeTrashMeta(item["trashMeta"]),
		Attachments: decodeAttachments(item["attachments"]),
	}
}

func decodeAddressField(av types.AttributeValue) AddressField {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return Single(v.Value)
	case *types.AttributeValueMemberSS:
		return StringList(v.Value)
	case *types.AttributeValueMemberL:
		entries := make([]AddressEntry, 0, len(v.Value))
		for _, elem := range v.Value {
			switch e := elem.(type) {
			case *types.AttributeValueMemberS:
				entries = append(entries, TextEntry(e.Value))
			case *types.AttributeValueMemberM:
				entries = append(entries, ObjectEntry(
					stringAttr(e.Value, "email"),
					stringAttr(e.Value, "address"),
					stringAttr(e.Value, "value"),
				))
			}
		}
		return List(entries...)
	}
	return Absent()
}

func decodeTrashMeta(av types.AttributeValue) *TrashMeta {
	m, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return nil
	}
	meta := &TrashMeta{
		PreviousFolder:  stringAttr(m.Value, "previousFolder"),
		PreviousFolders: stringListAttr(m.Value["previousFolders"]),
		OwnerEmail:      stringAttr(m.Value, "ownerEmail"),
		MovedAt:         stringAttr(m.Value, "movedAt"),
		MovedBy:         stringAttr(m.Value, "movedBy"),
		RestoredAt:      stringAttr(m.Value, "restoredAt"),
		RestoredTo:      stringAttr(m.Value, "restoredTo"),
	}
	if meta.IsZero() {
		return nil
	}
	return meta
}

func decodeAttachments(av types.AttributeValue) []StoredAttachment {
	l, ok := av.(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	out := make([]StoredAttachment, 0, len(l.Value))
	for i, elem := range l.Value {
		m, ok := elem.(*types.AttributeValueMemberM)
		if !ok {
			continue
		}
		att := StoredAttachment{
			ID:          stringAttr(m.Value, "id"),
			Filename:    firstNonEmpty(stringAttr(m.Value, "filename"), stringAttr(m.Value, "name")),
			ContentType: firstNonEmpty(stringAttr(m.Value, "contentType"), stringAttr(m.Value, "type")),
			Path:        firstNonEmpty(stringAttr(m.Value, "path"), stringAttr(m.Value, "storagePath")),
			Data:        stringAttr(m.Value, "data"),
		}
		if n, ok := m.Value["size"].(*types.AttributeValueMemberN); ok {
			att.Size, _ = strconv.ParseInt(n.Value, 10, 64)
		}
		if att.ID == "" {
			att.ID = strconv.Itoa(i)
		}
		out = append(out, att)
	}
	return out
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func optionalStringAttr(item map[string]types.AttributeValue, key string) *string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		s := v.Value
		return &s
	}
	return nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	if v, ok := item[key].(*types.AttributeValueMemberBOOL); ok {
		return v.Value
	}
	return false
}

func stringListAttr(av types.AttributeValue) []string {
	switch v := av.(type) {
	case *types.AttributeValueMemberSS:
		return append([]string(nil), v.Value...)
	case *types.AttributeValueMemberL:
		out := make([]string, 0, len(v.Value))
		for _, elem := range v.Value {
			if s, ok := elem.(*types.AttributeValueMemberS); ok {
				out = append(out, s.Value)
			}
		}
		return out
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
