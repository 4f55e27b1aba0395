package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"SpotBridge/internal/model"
)

// WritePricesCSV writes the price series followed by the derived statistics.
// EUR cells are empty when the series carries no conversion rate, and
// statistics that could not be derived are written as empty values.
func WritePricesCSV(path string, series *model.PriceSeries, stats *model.DerivedStatistics) error {
	if series == nil {
		return fmt.Errorf("export prices: no price series")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export prices: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"hour_dk", "price_area", "spot_price_dkk", "spot_price_eur"}); err != nil {
		return err
	}
	for i, r := range series.Records {
		eur := ""
		if v, ok := series.EUR(i); ok {
			eur = fmtFloat(v)
		}
		row := []string{
			r.HourDK.Format("2006-01-02T15:04:05"),
			string(r.Area),
			r.SpotPriceDKK.String(),
			eur,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	if stats != nil {
		rows := [][]string{
			{},
			{"statistic", "value"},
			{"percentile_x", fmtFloat(stats.Params.X)},
			{"percentile_y", fmtFloat(stats.Params.Y)},
		}
		for _, m := range model.Metrics {
			rows = append(rows, []string{string(m), fmtOptional(stats.Value(m))})
		}
		if err := w.WriteAll(rows); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func fmtOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtFloat(*v)
}
