// Package disks holds standard floppy/HDD geometry presets listed by the
// `geometries` CLI subcommand, described in CSV the way this family of tools
// keeps disk geometry data external to Go source.
package disks

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// DiskGeometry describes one named storage geometry preset: enough to
// compute a FAT12/16 image's total sector count before formatting it.
type DiskGeometry struct {
	Name               string `csv:"name"`
	Slug               string `csv:"slug"`
	FirstYearAvailable uint   `csv:"first_year_available"`
	FormFactor         string `csv:"form_factor"`
	IsRemovable        uint   `csv:"is_removable"`

	// BitsPerAddressUnit gives the number of bits in the device's smallest
	// addressable unit of memory; 8 for every geometry here.
	BitsPerAddressUnit uint `csv:"bits_per_address_unit"`

	// AddressUnitsPerSector gives the number of address units in a sector.
	AddressUnitsPerSector uint `csv:"address_units_per_sector"`
	SectorsPerTrack       uint `csv:"sectors_per_track"`

	// TotalDataTracks gives the number of data tracks per head.
	TotalDataTracks uint   `csv:"total_data_tracks"`
	HiddenTracks    uint   `csv:"hidden_tracks"`
	Heads           uint   `csv:"heads"`
	Notes           string `csv:"notes"`
}

// TotalSizeBytes gives the size of the storage device, rounded up to the
// nearest byte.
func (g DiskGeometry) TotalSizeBytes() int64 {
	bits := int64(g.BitsPerAddressUnit * g.AddressUnitsPerSector * g.SectorsPerTrack *
		g.TotalDataTracks * g.Heads)
	if bits%8 == 0 {
		return bits / 8
	}
	return (bits / 8) + 1
}

// TotalSectors gives the size of the device in 512-byte logical sectors.
func (g DiskGeometry) TotalSectors() int64 {
	return g.TotalSizeBytes() / 512
}

//go:embed disk-geometries.csv
var diskGeometriesRawCSV string

var diskGeometries = map[string]DiskGeometry{}

// GetPredefinedDiskGeometry looks up a geometry by its slug (e.g.
// "floppy-1440kb").
func GetPredefinedDiskGeometry(slug string) (DiskGeometry, error) {
	geometry, ok := diskGeometries[slug]
	if ok {
		return geometry, nil
	}
	return DiskGeometry{}, fmt.Errorf("no predefined disk geometry exists with slug %q", slug)
}

// Slugs returns every predefined geometry's slug, for CLI help text.
func Slugs() []string {
	slugs := make([]string, 0, len(diskGeometries))
	for slug := range diskGeometries {
		slugs = append(slugs, slug)
	}
	return slugs
}

func init() {
	reader := strings.NewReader(diskGeometriesRawCSV)
	err := gocsv.UnmarshalToCallback(
		reader,
		func(row DiskGeometry) error {
			if _, exists := diskGeometries[row.Slug]; exists {
				return fmt.Errorf("duplicate definition for disk %q", row.Slug)
			}
			diskGeometries[row.Slug] = row
			return nil
		},
	)
	if err != nil {
		panic(err)
	}
}
