package gnark

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/hash"
	"github.com/consensys/gnark/test"
)

func mimcSum(preimages ...[]byte) []byte {
	hFunc := hash.MIMC_BN254.New()
	for _, preimage := range preimages {
		hFunc.Write(preimage)
	}
	return hFunc.Sum(nil)
}

func fieldBytes(i int64) []byte {
	return big.NewInt(i).FillBytes(make([]byte, 32))
}

func TestCommitmentCircuit(t *testing.T) {
	assert := test.NewAssert(t)

	secret := fieldBytes(42)
	commitment := mimcSum(secret)

	var circuit CommitmentCircuit

	{
		var witness CommitmentCircuit
		witness.Secret = secret
		witness.Commitment = commitment

		assert.ProverSucceeded(&circuit, &witness, test.WithCurves(ecc.BN254))
	}

	{
		// a wrong secret must not satisfy the commitment
		var witness CommitmentCircuit
		witness.Secret = fieldBytes(43)
		witness.Commitment = commitment

		assert.ProverFailed(&circuit, &witness, test.WithCurves(ecc.BN254))
	}
}
