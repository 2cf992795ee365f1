package visualization

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"corrfield/internal/models"
)

// SaveDisplacementHistogram plots the distribution of displacement
// magnitudes of a dense field and writes it as a PNG. Useful as a
// quick plausibility check of a registration run: most mass near zero,
// a tail toward the ablation border.
func SaveDisplacementHistogram(field *models.DisplacementField, filename string) error {
	values := make(plotter.Values, 0, len(field.Dx))
	for i := range field.Dx {
		mag := math.Sqrt(field.Dx[i]*field.Dx[i] + field.Dy[i]*field.Dy[i] + field.Dz[i]*field.Dz[i])
		values = append(values, mag)
	}

	p := plot.New()
	p.Title.Text = "Displacement magnitude"
	p.X.Label.Text = "voxels"
	p.Y.Label.Text = "count"

	hist, err := plotter.NewHist(values, 64)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(hist)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save histogram: %w", err)
	}
	return nil
}
