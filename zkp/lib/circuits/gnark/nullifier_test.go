package gnark

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
)

func TestNullifierCircuit(t *testing.T) {
	assert := test.NewAssert(t)

	secret := fieldBytes(42)
	commitment := mimcSum(secret)
	nullifier := mimcSum(secret, commitment)

	var circuit NullifierCircuit

	{
		var witness NullifierCircuit
		witness.Secret = secret
		witness.Commitment = commitment
		witness.Nullifier = nullifier

		assert.ProverSucceeded(&circuit, &witness, test.WithCurves(ecc.BN254))
	}

	{
		// a nullifier derived from a different secret must not verify
		var witness NullifierCircuit
		witness.Secret = secret
		witness.Commitment = commitment
		witness.Nullifier = mimcSum(fieldBytes(43), commitment)

		assert.ProverFailed(&circuit, &witness, test.WithCurves(ecc.BN254))
	}

	{
		// the commitment binding is enforced, not just the nullifier
		var witness NullifierCircuit
		witness.Secret = secret
		witness.Commitment = mimcSum(fieldBytes(43))
		witness.Nullifier = nullifier

		assert.ProverFailed(&circuit, &witness, test.WithCurves(ecc.BN254))
	}
}
