package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

func newSampleCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Print a sample balanced three-phase load definition",
		Long: `Prints 242 V / 6 A on all three lines with 0°/240°/120° phase angles at
50 Hz. Pipe the output into "mtectl load -".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := json.Marshal(sampleLoadDefinition())
			if err != nil {
				return err
			}
			return writeData(cmd.OutOrStdout(), flags.output, data)
		},
	}
}

func sampleLoadDefinition() *mte.LoadDefinition {
	i32 := func(v int32) *int32 { return &v }
	me := func(m int32, e int8) *mte.ME { return &mte.ME{Mantissa: m, Exponent: e} }
	return &mte.LoadDefinition{
		PhiV: []*int32{i32(0), i32(2400000), i32(1200000)},
		PhiI: []*int32{i32(0), i32(2400000), i32(1200000)},
		V:    []*mte.ME{me(2420000, -4), me(2420000, -4), me(2420000, -4)},
		I:    []*mte.ME{me(6000000, -6), me(6000000, -6), me(6000000, -6)},
		F:    i32(500000),
	}
}
