package gnark

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// NullifierCircuit proves a nullifier was derived from the same secret as a
// published commitment, binding the one-time spend token to the deposit it
// nullifies without revealing the depositor
type NullifierCircuit struct {
	Secret     frontend.Variable // known to the prover only
	Commitment frontend.Variable `gnark:",public"`
	Nullifier  frontend.Variable `gnark:",public"`
}

// Define the nullifier derivation circuit
func (circuit *NullifierCircuit) Define(api frontend.API) error {
	commitmentHash, _ := mimc.NewMiMC(api)
	commitmentHash.Write(circuit.Secret)
	api.AssertIsEqual(circuit.Commitment, commitmentHash.Sum())

	nullifierHash, _ := mimc.NewMiMC(api)
	nullifierHash.Write(circuit.Secret, circuit.Commitment)
	api.AssertIsEqual(circuit.Nullifier, nullifierHash.Sum())
	return nil
}
