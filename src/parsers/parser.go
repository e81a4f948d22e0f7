package parsers

import (
	"io"

	"github.com/openbooks/ledgercore/src/services"
)

// Parser turns an uploaded statement file into descriptors for the ingestion
// pipeline.
type Parser interface {
	Parse(file io.Reader) ([]services.TransactionDescriptor, error)
}
