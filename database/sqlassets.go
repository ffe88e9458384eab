package sqlassets

import _ "embed"

//go:embed schema/credentials.sql
var CredentialsSQL string

//go:embed schema/classes.sql
var ClassesSQL string
