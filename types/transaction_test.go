package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/crypto"
)

func testAddress(t *testing.T) (crypto.PrivateKey, string) {
	t.Helper()
	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	addr, err := priv.PublicKey().Address()
	require.NoError(t, err)
	return priv, addr.String()
}

func TestTransactionSignAndVerify(t *testing.T) {
	priv, from := testAddress(t)
	_, to := testAddress(t)

	tx := &Transaction{
		Timestamp: time.Now().Unix(),
		From:      from,
		To:        to,
		Amount:    40,
		GasFee:    1,
		Nonce:     5,
	}
	require.NoError(t, tx.Sign(priv))
	require.False(t, tx.ID.IsZero())
	require.NotEmpty(t, tx.Signature)

	require.NoError(t, tx.VerifySignature())

	id, err := tx.ComputeID()
	require.NoError(t, err)
	require.Equal(t, tx.ID, id)
}

func TestTransactionVerifyRejectsTampering(t *testing.T) {
	priv, from := testAddress(t)
	_, to := testAddress(t)

	tx := &Transaction{
		Timestamp: time.Now().Unix(),
		From:      from,
		To:        to,
		Amount:    40,
		Nonce:     0,
	}
	require.NoError(t, tx.Sign(priv))

	tx.Amount = 4000
	require.ErrorIs(t, tx.VerifySignature(), ErrInvalidSignature)
}

func TestTransactionVerifyRejectsForeignKey(t *testing.T) {
	priv, _ := testAddress(t)
	_, from := testAddress(t)
	_, to := testAddress(t)

	// Signed with a key that does not own the From address.
	tx := &Transaction{
		Timestamp: time.Now().Unix(),
		From:      from,
		To:        to,
		Amount:    10,
		Nonce:     1,
	}
	require.NoError(t, tx.Sign(priv))
	require.ErrorIs(t, tx.VerifySignature(), ErrInvalidSignature)
}

func TestValidateBasic(t *testing.T) {
	_, from := testAddress(t)
	_, to := testAddress(t)

	cases := []struct {
		name string
		tx   Transaction
		want error
	}{
		{"valid", Transaction{From: from, To: to, Amount: 1}, nil},
		{"bad sender", Transaction{From: "nonsense", To: to, Amount: 1}, ErrInvalidAddress},
		{"bad recipient", Transaction{From: from, To: "also nonsense", Amount: 1}, ErrInvalidAddress},
		{"zero amount", Transaction{From: from, To: to, Amount: 0}, ErrNonPositiveAmount},
		{"negative amount", Transaction{From: from, To: to, Amount: -5}, ErrNonPositiveAmount},
		{"negative fee", Transaction{From: from, To: to, Amount: 1, GasFee: -1}, ErrNegativeFee},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tx.ValidateBasic()
			if tc.want == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestTransactionMarshalRoundTrip(t *testing.T) {
	priv, from := testAddress(t)
	_, to := testAddress(t)

	tx := &Transaction{
		Timestamp: time.Now().Unix(),
		From:      from,
		To:        to,
		Amount:    123,
		GasFee:    7,
		Nonce:     9,
	}
	require.NoError(t, tx.Sign(priv))

	data, err := tx.Marshal()
	require.NoError(t, err)

	var decoded Transaction
	require.NoError(t, decoded.Unmarshal(data))
	require.Equal(t, tx.ID, decoded.ID)
	require.Equal(t, tx.Amount, decoded.Amount)
	require.NoError(t, decoded.VerifySignature())
}
