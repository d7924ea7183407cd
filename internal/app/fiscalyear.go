/**
 * @description
 * Financial-year windowing. The reporting year follows the India convention,
 * April 1 through March 31, evaluated in the service's reporting time zone.
 */

package app

import (
	"fmt"
	"time"
)

// fiscalYearWindow computes the inclusive [start, end] date bounds of the
// fiscal year containing the reference instant. January through March belong to
// the fiscal year that started the previous April.
func fiscalYearWindow(ref time.Time) (from, to string) {
	year := ref.Year()
	startYear := year
	if ref.Month() < time.April {
		startYear = year - 1
	}
	return fmt.Sprintf("%d-04-01", startYear), fmt.Sprintf("%d-03-31", startYear+1)
}
