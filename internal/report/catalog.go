// Package report holds the static portal report catalog: the mapping of
// report types to portal URLs, the region table for region-scoped
// reports, and the chunked date-range arithmetic the downloaders share.
package report

// Report type keys as the portal names them.
const (
	TypeSales            = "FAF001 - Sales Report"
	TypeDosage           = "FAF002 - Dosage Report"
	TypeOtherImportExport = "FAF003 - Report Of Other Imports And Exports"
	TypeRotationImports  = "FAF004N - Internal Rotation Report (Imports)"
	TypeRotationExports  = "FAF004X - Internal Rotation Report (Exports)"
	TypeDetailedImports  = "FAF005 - Detailed Report Of Imports"
	TypeSupplierReturn   = "FAF006 - Supplier Return Report"
	TypeTransactionDetail = "FAF028 - Detailed Import - Export Transaction Report"
)

// urls maps report type to the portal page that serves it.
var urls = map[string]string{
	TypeSales:            "https://portal.example.com/reports/faf001",
	TypeDosage:           "https://portal.example.com/reports/faf002",
	TypeOtherImportExport: "https://portal.example.com/reports/faf003",
	TypeRotationImports:  "https://portal.example.com/reports/faf004n",
	TypeRotationExports:  "https://portal.example.com/reports/faf004x",
	TypeDetailedImports:  "https://portal.example.com/reports/faf005",
	TypeSupplierReturn:   "https://portal.example.com/reports/faf006",
	TypeTransactionDetail: "https://portal.example.com/reports/faf028",
}

// regionRequired is the set of report URLs that cannot be exported
// without selecting at least one region first.
var regionRequired = map[string]bool{
	urls[TypeOtherImportExport]: true,
}

// Region is a selectable portal region.
type Region struct {
	Index int
	Name  string
}

// regions indexes the portal's region picker.
var regions = map[int]Region{
	1: {Index: 1, Name: "North"},
	2: {Index: 2, Name: "South"},
}

// URL resolves a report type to its portal URL.
func URL(reportType string) (string, bool) {
	u, ok := urls[reportType]
	return u, ok
}

// Types returns the known report type keys in catalog order.
func Types() []string {
	return []string{
		TypeSales,
		TypeDosage,
		TypeOtherImportExport,
		TypeRotationImports,
		TypeRotationExports,
		TypeDetailedImports,
		TypeSupplierReturn,
		TypeTransactionDetail,
	}
}

// URLs returns a copy of the full type-to-URL table.
func URLs() map[string]string {
	m := make(map[string]string, len(urls))
	for k, v := range urls {
		m[k] = v
	}
	return m
}

// RegionRequired reports whether the given report URL needs region selection.
func RegionRequired(url string) bool {
	return regionRequired[url]
}

// RegionRequiredURLs returns the URLs that need region selection.
func RegionRequiredURLs() []string {
	out := make([]string, 0, len(regionRequired))
	for u := range regionRequired {
		out = append(out, u)
	}
	return out
}

// RegionByIndex resolves a region picker index.
func RegionByIndex(idx int) (Region, bool) {
	r, ok := regions[idx]
	return r, ok
}

// Regions returns the region table keyed by picker index.
func Regions() map[int]Region {
	m := make(map[int]Region, len(regions))
	for k, v := range regions {
		m[k] = v
	}
	return m
}
