// migrations содержит SQL-схему сервиса, встроенную в бинарник.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
