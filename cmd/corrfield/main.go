package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"corrfield/internal/models"
	"corrfield/pkg/config"
	"corrfield/pkg/nifti"
	"corrfield/pkg/registration"
	"corrfield/pkg/visualization"
)

func main() {
	// Parse command line arguments
	fixedPath := flag.String("fixed", "", "Fixed (post-ablation) image (*.nii/*.nii.gz)")
	movingPath := flag.String("moving", "", "Moving (pre-ablation) image (*.nii/*.nii.gz)")
	maskPath := flag.String("mask", "", "Valid-region mask for the fixed image (*.nii/*.nii.gz)")
	ablationPath := flag.String("ablation-mask", "", "Binary ablation zone mask in fixed image space (*.nii/*.nii.gz)")
	outputPrefix := flag.String("output", "", "Output name (no filename extension)")
	configPath := flag.String("config", "", "Optional YAML configuration file")

	alpha := flag.Float64("alpha", 2.5, "Regularisation parameter")
	beta := flag.Float64("beta", 150, "Intensity weighting")
	gamma := flag.Float64("gamma", 5, "Scaling factor for soft correspondences")
	delta := flag.Int("delta", 1, "Step size for MIND descriptor")
	lambda := flag.Float64("lambda", 0, "Regularisation parameter for thin plate spline")
	sigma := flag.Float64("sigma", 1.4, "Sigma for Foerstner operator")
	sigma1 := flag.Float64("sigma1", 1, "Sigma for MIND descriptor")

	borderDist := flag.Int("border-dist", 10, "Distance from ablation border to increase density (voxels)")
	borderDensity := flag.Float64("border-density", 2.0, "Factor to increase keypoint density near borders")

	searchRadius := flag.String("search-radius", "16x8", "Maximum search radius for each level")
	cubeLength := flag.String("length", "6x3", "Cube length of non-maximum suppression for each level")
	quantisation := flag.String("quantisation", "2x1", "Quantisation of search step size for each level")
	patchRadius := flag.String("patch-radius", "3x2", "Patch radius for similarity search for each level")
	transform := flag.String("transform", "nxn", "Densification per level: rigid (r) / non-rigid (n)")

	saveDeformation := flag.Bool("save-deformation", false, "Save per-axis deformation field files")
	saveSlices := flag.Bool("save-slices", false, "Save keypoint overlay slices of the warped volume")
	flag.Parse()

	// Validate inputs
	if *fixedPath == "" || *movingPath == "" || *maskPath == "" || *ablationPath == "" || *outputPrefix == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Load optional config file. File values become the new baseline;
	// flags given explicitly on the command line still win.
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		applyConfig(cfg, alpha, beta, gamma, delta, lambda, sigma, sigma1,
			borderDist, borderDensity, searchRadius, cubeLength, quantisation, patchRadius, transform)
	}

	fmt.Println("================================")
	fmt.Println("ABLATION-AWARE CORRFIELD REGISTRATION")
	fmt.Println("Deformable CT registration with ablation zone exclusion")
	fmt.Println("================================")
	fmt.Printf(" Fixed image: %s\n", *fixedPath)
	fmt.Printf("Moving image: %s\n", *movingPath)
	fmt.Printf("  Fixed mask: %s\n", *maskPath)
	fmt.Printf("Ablation mask: %s\n", *ablationPath)
	fmt.Printf("Output files: %s.csv/.nii.gz\n", *outputPrefix)
	fmt.Printf("       alpha: %g\n", *alpha)
	fmt.Printf("        beta: %g\n", *beta)
	fmt.Printf("       gamma: %g\n", *gamma)
	fmt.Printf("      lambda: %g\n", *lambda)
	fmt.Printf("       delta: %d\n", *delta)
	fmt.Printf("       sigma: %g\n", *sigma)
	fmt.Printf("      sigma1: %g\n", *sigma1)
	fmt.Printf(" border_dist: %d\n", *borderDist)
	fmt.Printf("border_density: %g\n", *borderDensity)
	fmt.Println()

	stages, err := parseStages(*searchRadius, *cubeLength, *quantisation, *patchRadius, *transform)
	if err != nil {
		log.Fatalf("Invalid stage configuration: %v", err)
	}

	// Load all volumes
	fmt.Println("Loading volumes...")
	fixed, err := nifti.Read(*fixedPath)
	if err != nil {
		log.Fatalf("Failed to load fixed image: %v", err)
	}
	moving, err := nifti.Read(*movingPath)
	if err != nil {
		log.Fatalf("Failed to load moving image: %v", err)
	}
	valid, err := nifti.Read(*maskPath)
	if err != nil {
		log.Fatalf("Failed to load fixed mask: %v", err)
	}
	ablation, err := nifti.Read(*ablationPath)
	if err != nil {
		log.Fatalf("Failed to load ablation mask: %v", err)
	}

	params := &registration.Params{
		Alpha:         *alpha,
		Beta:          *beta,
		Gamma:         *gamma,
		Delta:         *delta,
		Lambda:        *lambda,
		Sigma:         *sigma,
		Sigma1:        *sigma1,
		BorderDist:    *borderDist,
		BorderDensity: *borderDensity,
		Stages:        stages,
		Verbose:       cfg.Output.Verbose,
	}

	fmt.Println("Run corrField registration ...")
	startTime := time.Now()
	registrator := registration.NewRegistrator(params)
	result, err := registrator.Register(fixed, moving, valid, ablation)
	if err != nil {
		if registration.IsRecoverable(err) {
			log.Fatalf("Registration produced no keypoints (ablation zone covers the valid region?): %v", err)
		}
		log.Fatalf("Registration failed: %v", err)
	}
	elapsed := time.Since(startTime)

	// Write correspondence list
	csvPath := fmt.Sprintf("%s.csv", *outputPrefix)
	if err := writeCorrespondences(csvPath, result.Correspondences); err != nil {
		log.Fatalf("Failed to write correspondences: %v", err)
	}

	// Write warped volume
	warpedPath := fmt.Sprintf("%s.nii.gz", *outputPrefix)
	result.Warped.Affine = fixed.Affine
	result.Warped.VoxelSize = fixed.VoxelSize
	if err := nifti.Write(warpedPath, result.Warped); err != nil {
		log.Fatalf("Failed to write warped volume: %v", err)
	}

	// Write keypoint dumps for both spaces
	if err := writeKeypoints(fmt.Sprintf("%s_keypoints_fixed.csv", *outputPrefix), result.FixedKeypoints); err != nil {
		log.Fatalf("Failed to write fixed keypoints: %v", err)
	}
	if err := writeKeypoints(fmt.Sprintf("%s_keypoints_moving.csv", *outputPrefix), result.MovingKeypoints); err != nil {
		log.Fatalf("Failed to write moving keypoints: %v", err)
	}

	fmt.Println("Files written:")
	fmt.Printf("  %s\n", csvPath)
	fmt.Printf("  %s\n", warpedPath)
	fmt.Printf("  %s_keypoints_fixed.csv\n", *outputPrefix)
	fmt.Printf("  %s_keypoints_moving.csv\n", *outputPrefix)

	if *saveDeformation || cfg.Output.SaveDeformation {
		if err := writeDeformation(*outputPrefix, result.Field, fixed); err != nil {
			log.Fatalf("Failed to write deformation fields: %v", err)
		}
		fmt.Printf("  %s_deformation_magnitude.nii.gz\n", *outputPrefix)
		fmt.Printf("  %s_deformation_x.nii.gz\n", *outputPrefix)
		fmt.Printf("  %s_deformation_y.nii.gz\n", *outputPrefix)
		fmt.Printf("  %s_deformation_z.nii.gz\n", *outputPrefix)

		histPath := fmt.Sprintf("%s_deformation_hist.png", *outputPrefix)
		if err := visualization.SaveDisplacementHistogram(result.Field, histPath); err != nil {
			log.Printf("Warning: failed to save displacement histogram: %v", err)
		} else {
			fmt.Printf("  %s\n", histPath)
		}
	}

	if *saveSlices || cfg.Output.SaveSlices {
		fmt.Println("Saving keypoint overlay slices...")
		viewer := visualization.NewViewer(result.Warped)
		viewer.SetKeypoints(result.FixedKeypoints)
		viewer.SetAblationMask(ablation)
		slicesDir := fmt.Sprintf("%s_slices", *outputPrefix)
		if err := viewer.SaveSliceSequence("z", slicesDir); err != nil {
			log.Printf("Warning: failed to save slices: %v", err)
		}
	}

	fmt.Printf("\nValidation metrics (warped vs fixed, inside mask):\n")
	fmt.Printf("  Mutual Information (MI): %.3f\n", result.Metrics.MI)
	fmt.Printf("  Entropy Difference: %.3f\n", result.Metrics.EntropyDiff)
	fmt.Printf("  Root Mean Square Error (RMSE): %.6f\n", result.Metrics.RMSE)
	fmt.Printf("  Structural Similarity Index (SSIM): %.3f\n", result.Metrics.SSIM)

	fmt.Printf("\nTotal computation time: %.1f s\n", elapsed.Seconds())
}

// applyConfig copies file-sourced parameters over the flag defaults,
// then restores any flag the user set explicitly.
func applyConfig(cfg *config.Config,
	alpha, beta, gamma *float64, delta *int, lambda, sigma, sigma1 *float64,
	borderDist *int, borderDensity *float64,
	searchRadius, cubeLength, quantisation, patchRadius, transform *string) {

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	apply := func(name string, fn func()) {
		if !set[name] {
			fn()
		}
	}
	apply("alpha", func() { *alpha = cfg.Registration.Alpha })
	apply("beta", func() { *beta = cfg.Registration.Beta })
	apply("gamma", func() { *gamma = cfg.Registration.Gamma })
	apply("delta", func() { *delta = cfg.Registration.Delta })
	apply("lambda", func() { *lambda = cfg.Registration.Lambda })
	apply("sigma", func() { *sigma = cfg.Registration.Sigma })
	apply("sigma1", func() { *sigma1 = cfg.Registration.Sigma1 })
	apply("border-dist", func() { *borderDist = cfg.Ablation.BorderDist })
	apply("border-density", func() { *borderDensity = cfg.Ablation.BorderDensity })
	apply("search-radius", func() { *searchRadius = cfg.Stages.SearchRadius })
	apply("length", func() { *cubeLength = cfg.Stages.CubeLength })
	apply("quantisation", func() { *quantisation = cfg.Stages.Quantisation })
	apply("patch-radius", func() { *patchRadius = cfg.Stages.PatchRadius })
	apply("transform", func() { *transform = cfg.Stages.Transform })
}

// parseStages expands the "16x8"-style per-level parameter strings into
// stage configurations. All five lists must have the same length.
func parseStages(searchRadius, cubeLength, quantisation, patchRadius, transform string) ([]registration.StageConfig, error) {
	l, err := parseIntList(searchRadius)
	if err != nil {
		return nil, fmt.Errorf("search radius: %v", err)
	}
	n, err := parseIntList(cubeLength)
	if err != nil {
		return nil, fmt.Errorf("cube length: %v", err)
	}
	q, err := parseIntList(quantisation)
	if err != nil {
		return nil, fmt.Errorf("quantisation: %v", err)
	}
	r, err := parseIntList(patchRadius)
	if err != nil {
		return nil, fmt.Errorf("patch radius: %v", err)
	}
	t := strings.Split(transform, "x")

	if len(n) != len(l) || len(q) != len(l) || len(r) != len(l) || len(t) != len(l) {
		return nil, fmt.Errorf("stage lists have mismatched lengths %d/%d/%d/%d/%d",
			len(l), len(n), len(q), len(r), len(t))
	}

	stages := make([]registration.StageConfig, len(l))
	for i := range l {
		stages[i] = registration.StageConfig{
			SearchRadius: l[i],
			CubeLength:   n[i],
			Quantisation: q[i],
			PatchRadius:  r[i],
			Transform:    t[i],
		}
	}
	return stages, nil
}

func parseIntList(s string) ([]int, error) {
	parts := strings.Split(s, "x")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", p)
		}
		out[i] = v
	}
	return out, nil
}

// writeCorrespondences writes the fixed/moving point pairs as CSV with
// one row per keypoint: fx, fy, fz, mx, my, mz.
func writeCorrespondences(path string, pairs []models.Correspondence) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	for _, p := range pairs {
		record := []string{
			strconv.FormatFloat(p.FixedX, 'f', 3, 64),
			strconv.FormatFloat(p.FixedY, 'f', 3, 64),
			strconv.FormatFloat(p.FixedZ, 'f', 3, 64),
			strconv.FormatFloat(p.MovingX, 'f', 3, 64),
			strconv.FormatFloat(p.MovingY, 'f', 3, 64),
			strconv.FormatFloat(p.MovingZ, 'f', 3, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

// writeKeypoints writes a coordinate dump as CSV, one x,y,z row per point.
func writeKeypoints(path string, kpts [][3]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	for _, kp := range kpts {
		record := []string{
			strconv.FormatFloat(kp[0], 'f', 3, 64),
			strconv.FormatFloat(kp[1], 'f', 3, 64),
			strconv.FormatFloat(kp[2], 'f', 3, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return w.Error()
}

// writeDeformation writes the per-axis deformation components and the
// magnitude as NIfTI volumes on the fixed grid.
func writeDeformation(prefix string, field *models.DisplacementField, fixed *models.Volume) error {
	components := []struct {
		suffix string
		data   []float64
	}{
		{"x", field.Dx},
		{"y", field.Dy},
		{"z", field.Dz},
	}

	for _, c := range components {
		vol := models.NewVolume(field.Width, field.Height, field.Depth)
		copy(vol.Data, c.data)
		vol.VoxelSize = fixed.VoxelSize
		vol.Affine = fixed.Affine
		if err := nifti.Write(fmt.Sprintf("%s_deformation_%s.nii.gz", prefix, c.suffix), vol); err != nil {
			return err
		}
	}

	mag := models.NewVolume(field.Width, field.Height, field.Depth)
	for i := range mag.Data {
		mag.Data[i] = math.Sqrt(field.Dx[i]*field.Dx[i] + field.Dy[i]*field.Dy[i] + field.Dz[i]*field.Dz[i])
	}
	mag.VoxelSize = fixed.VoxelSize
	mag.Affine = fixed.Affine
	return nifti.Write(fmt.Sprintf("%s_deformation_magnitude.nii.gz", prefix), mag)
}
