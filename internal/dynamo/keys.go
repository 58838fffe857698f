// Package dynamo provides shared DynamoDB constants and utilities.
package dynamo

const (
	// Primary key attributes.
	AttrPK = "pk"
	AttrSK = "sk"

	// Key prefixes.
	PrefixAccount  = "ACCOUNT#"
	PrefixMail     = "MAIL#"
	PrefixSettings = "SETTINGS#"
	PrefixFolder   = "FOLDER#"

	// Per-account mail copies sort by folder then date on lsi1.
	AttrLSI1SK = "lsi1sk"
	IndexLSI1  = "lsi1"

	// Global mail documents: folder+recipient, folder+sender, folder only.
	// All three use "date" as range key.
	AttrGSI1PK = "gsi1pk"
	AttrGSI2PK = "gsi2pk"
	AttrGSI3PK = "gsi3pk"
	IndexGSI1  = "gsi1"
	IndexGSI2  = "gsi2"
	IndexGSI3  = "gsi3"
	AttrDate   = "date"

	// Versioned documents.
	AttrPayload   = "payload"
	AttrVersion   = "version"
	AttrUpdatedAt = "updatedAt"
)

// AccountPK returns the partition key for an account's items.
func AccountPK(accountID string) string {
	return PrefixAccount + accountID
}

// MailPK returns the partition key of a global mail document.
func MailPK(mailID string) string {
	return PrefixMail + mailID
}

// MailSK returns the sort key of a per-account mail copy.
func MailSK(mailID string) string {
	return PrefixMail + mailID
}

// SettingsSK returns the sort key of a per-account settings document.
func SettingsSK(name string) string {
	return PrefixSettings + name
}
