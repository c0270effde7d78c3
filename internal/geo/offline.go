package geo

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"net"
	"os"
	"sort"
)

// ipRange is one row of the offline dataset: an IPv4 CIDR block mapped to a
// location. Ranges are kept sorted by start address for binary search.
type ipRange struct {
	start uint32
	end   uint32
	loc   Location
}

// OfflineLocator answers lookups from a local CSV dataset with rows of the
// form `cidr,country,province,city,isp`. An empty path yields a locator that
// always answers Unknown, which keeps the pipeline usable without a dataset.
type OfflineLocator struct {
	ranges []ipRange
}

// NewOfflineLocator loads the dataset at path.
func NewOfflineLocator(path string) (*OfflineLocator, error) {
	l := &OfflineLocator{}
	if path == "" {
		return l, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 5

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse geo dataset: %w", err)
	}

	for _, rec := range records {
		_, network, err := net.ParseCIDR(rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q in geo dataset: %w", rec[0], err)
		}
		v4 := network.IP.To4()
		if v4 == nil {
			// IPv6 rows are skipped; the offline dataset is IPv4 only.
			continue
		}

		start := binary.BigEndian.Uint32(v4)
		ones, bits := network.Mask.Size()
		size := uint32(1) << (bits - ones)

		l.ranges = append(l.ranges, ipRange{
			start: start,
			end:   start + size - 1,
			loc: Location{
				Country:  orUnknown(rec[1]),
				Province: orUnknown(rec[2]),
				City:     orUnknown(rec[3]),
				ISP:      orUnknown(rec[4]),
			},
		})
	}

	sort.Slice(l.ranges, func(i, j int) bool {
		return l.ranges[i].start < l.ranges[j].start
	})

	return l, nil
}

// Lookup resolves ip by binary search over the loaded ranges.
func (l *OfflineLocator) Lookup(_ context.Context, ip string) Location {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return UnknownLocation
	}
	v4 := parsed.To4()
	if v4 == nil {
		return UnknownLocation
	}

	addr := binary.BigEndian.Uint32(v4)
	idx := sort.Search(len(l.ranges), func(i int) bool {
		return l.ranges[i].start > addr
	})
	if idx == 0 {
		return UnknownLocation
	}

	r := l.ranges[idx-1]
	if addr < r.start || addr > r.end {
		return UnknownLocation
	}
	return r.loc
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
