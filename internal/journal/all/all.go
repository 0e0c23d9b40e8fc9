// Package all wires every built-in journal backend into the journal
// factory. It exists for its side effects:
//
//	import _ "dataloader/internal/journal/all"
//
// makes the "sqlite" and "postgres" kinds available to journal.Open.
package all

import (
	_ "dataloader/internal/journal/postgres"
	_ "dataloader/internal/journal/sqlite"
)
