package parsers

import (
	"fmt"

	"github.com/openbooks/ledgercore/src/parsers/bankcsv"
)

func GetParser(format string) (Parser, error) {
	switch format {
	case "csv", "bankcsv":
		return bankcsv.NewParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for format: %s", format)
	}
}
