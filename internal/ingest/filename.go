package ingest

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/docgate/internal/apperr"
)

// Extension is the only accepted upload type.
const Extension = ".xlsx"

// <prefix><year>_<creator>_<reviewer>_<yyyymmdd>.xlsx
var filenamePattern = regexp.MustCompile(`^(.+?)(\d{4})_(.+?)_(.+?)_(\d{8})\.xlsx$`)

// FileMeta is the metadata carried by an upload's filename.
type FileMeta struct {
	Prefix     string
	Year       int
	CreatedBy  string
	ReviewedBy string
	FileDate   string
}

// ParseFilename extracts FileMeta from name. Directory components are ignored.
func ParseFilename(name string) (FileMeta, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if !strings.HasSuffix(base, Extension) {
		return FileMeta{}, apperr.Validation("only .xlsx files are allowed")
	}
	m := filenamePattern.FindStringSubmatch(base)
	if m == nil {
		return FileMeta{}, apperr.Structural("invalid filename format: expected <name><yyyy>_<creator>_<reviewer>_<yyyymmdd>.xlsx")
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return FileMeta{}, apperr.Structural("invalid year in filename: %s", m[2])
	}
	return FileMeta{
		Prefix:     m[1],
		Year:       year,
		CreatedBy:  m[3],
		ReviewedBy: m[4],
		FileDate:   m[5],
	}, nil
}
