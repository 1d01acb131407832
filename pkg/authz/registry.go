package authz

const (
	RoleAdmin     = "admin"
	RoleUser      = "user"
	RoleAnonymous = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

const DomainGlobal = "global"

const (
	ObjectCustomFieldFields     = "customfield.fields"
	ObjectCustomFieldOptions    = "customfield.options"
	ObjectIssueValues           = "issue.values"
	ObjectAdminIssueTypeSchemes = "admin.issuetypeschemes"
	ObjectAdminMigrations       = "admin.migrations"
)
