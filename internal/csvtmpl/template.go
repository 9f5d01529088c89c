// Package csvtmpl generates the CSV template users fill in before uploading.
package csvtmpl

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Columns is the header row the import endpoint expects, in order.
var Columns = []string{"name", "description", "category", "price", "quantity", "supplier"}

var exampleRow = []string{"Wireless Mouse", "Ergonomic 2.4GHz mouse", "Electronics", "24.99", "150", "Acme Supplies"}

// Write emits the template: the header row plus one example data row.
func Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.Write(exampleRow); err != nil {
		return fmt.Errorf("write example row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
