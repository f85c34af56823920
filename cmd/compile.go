package cmd

import (
	"fmt"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ray-project/distributed-zkml/circuit"
	"github.com/ray-project/distributed-zkml/distributed"
	"github.com/ray-project/distributed-zkml/fixedpoint"
	"github.com/ray-project/distributed-zkml/model"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "compiles every chunk circuit and reports constraint counts, without proving",
	Run:   compile,
}

func compile(cmd *cobra.Command, args []string) {
	params := fixedpoint.Params{ScaleBits: fScaleBits}

	g, err := model.ReadGraph(fModel)
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		return
	}
	inputs, err := readInputs(fInputs, params)
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		return
	}

	layouts, err := distributed.Layouts(g, params, fBoundaries, inputs)
	if err != nil {
		fmt.Printf("error: %s\n", err.Error())
		return
	}

	for _, layout := range layouts {
		template, err := circuit.NewChunkCircuit(layout)
		if err != nil {
			fmt.Printf("error: %s\n", err.Error())
			return
		}
		start := time.Now()
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, template)
		if err != nil {
			fmt.Printf("failed to compile chunk %d: %s\n", layout.Chunk.Index, err.Error())
			return
		}
		log.Info().
			Int("chunk", layout.Chunk.Index).
			Int("layers", layout.Chunk.End-layout.Chunk.Start).
			Int("constraints", ccs.GetNbConstraints()).
			Str("elapsed", time.Since(start).String()).
			Msg("compiled chunk circuit")
	}
}

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().StringVar(&fInputs, "inputs", "", "path to the model inputs json")
	compileCmd.Flags().IntSliceVar(&fBoundaries, "boundaries", nil, "interior layer indices splitting the graph into chunks")
	compileCmd.MarkFlagRequired("inputs")
}
