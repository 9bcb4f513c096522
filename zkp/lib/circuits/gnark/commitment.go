package gnark

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// CommitmentCircuit proves knowledge of the secret behind a published
// commitment without revealing it
type CommitmentCircuit struct {
	Secret     frontend.Variable // known to the prover only
	Commitment frontend.Variable `gnark:",public"`
}

// Define the commitment knowledge circuit
func (circuit *CommitmentCircuit) Define(api frontend.API) error {
	mimc, _ := mimc.NewMiMC(api)
	mimc.Write(circuit.Secret)
	api.AssertIsEqual(circuit.Commitment, mimc.Sum())
	return nil
}
