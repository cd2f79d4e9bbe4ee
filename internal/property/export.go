// Copyright 2026 The AgencyDesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package property

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportHeader is the fixed column order of the CSV export.
var ExportHeader = []string{
	"Address",
	"City",
	"Price",
	"Listing Type",
	"Property Type",
	"Bedrooms",
	"Bathrooms",
	"Area (sqft)",
	"Status",
	"Agent Name",
	"Agent Contact",
	"Owner Name",
	"Owner Contact",
	"Comments",
}

// ExportFilename returns the download name for an export taken at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("properties_%s.csv", t.UTC().Format("2006-01-02"))
}

// WriteCSV writes the header and one row per property. Fields containing
// commas, quotes or newlines are quoted.
func WriteCSV(w io.Writer, props []*Property) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range props {
		if err := cw.Write(row(p)); err != nil {
			return fmt.Errorf("failed to write csv row %s: %w", p.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(p *Property) []string {
	return []string{
		p.Address,
		p.City,
		p.Price.StringFixed(2),
		string(p.ListingType),
		string(p.PropertyType),
		strconv.Itoa(p.Bedrooms),
		p.Bathrooms.String(),
		strconv.Itoa(p.AreaSqft),
		string(p.Status),
		p.AgentName,
		p.AgentContact,
		p.OwnerName,
		p.OwnerContact,
		p.Comments,
	}
}
