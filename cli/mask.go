package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/runtime/pqa"
)

func (a *app) maskCmd() *cobra.Command {
	var (
		dilation int
		good     []int64
	)
	cmd := &cobra.Command{
		Use:   "mask FILE",
		Short: "Count valid pixels of a pixel-quality array",
		Long: `Build the PQA validity mask of a 2-D quality array, or a stack of them
with the observation axis first, and print the valid pixel count of each
observation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quality, err := readArray(args[0])
			if err != nil {
				return err
			}

			policy := a.cfg.MaskPolicy
			if cmd.Flags().Changed("dilation") {
				policy.Dilation = dilation
			}
			if cmd.Flags().Changed("good") {
				policy.GoodValues = good
			}
			mask, err := pqa.Mask(quality, policy)
			if err != nil {
				return err
			}

			shape := mask.Shape()
			planes := 1
			if len(shape) == 3 {
				planes = shape[0]
			}
			per := mask.Size() / max(planes, 1)
			valid := mask.Bools()
			total := 0
			for p := 0; p < planes; p++ {
				n := 0
				for _, v := range valid[p*per : (p+1)*per] {
					if v {
						n++
					}
				}
				total += n
				_, _ = fmt.Fprintf(a.stdout, "observation %d: %d of %d valid\n", p, n, per)
			}
			_, _ = fmt.Fprintf(a.stdout, "total: %d of %d valid (dilation %d)\n", total, mask.Size(), policy.Dilation)
			return nil
		},
	}
	cmd.Flags().IntVar(&dilation, "dilation", pqa.DefaultDilation, "Erosion radius in pixels")
	cmd.Flags().Int64SliceVar(&good, "good", nil, "Quality codes that are fully valid")
	return cmd
}
