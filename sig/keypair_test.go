// Copyright (c) 2024 The Biscuit Authors

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package sig

import (
	"testing"

	"github.com/biscuit-auth/biscuit-go/bisckerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyEd25519(t *testing.T) {
	kp, err := GenerateEd25519KeyPair(nil)
	require.NoError(t, err)

	msg := []byte("payload")
	signature, err := kp.Sign(nil, msg)
	require.NoError(t, err)

	require.NoError(t, Verify(kp.Public(), msg, signature))

	err = Verify(kp.Public(), []byte("other payload"), signature)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidSignature))
}

func TestSignVerifyP256(t *testing.T) {
	kp, err := GenerateP256KeyPair(nil)
	require.NoError(t, err)

	msg := []byte("payload")
	signature, err := kp.Sign(nil, msg)
	require.NoError(t, err)

	require.NoError(t, Verify(kp.Public(), msg, signature))

	err = Verify(kp.Public(), []byte("other payload"), signature)
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidSignature))
}

func TestVerifyRejectsBadKeys(t *testing.T) {
	err := Verify(PublicKey{Algorithm: Ed25519, Bytes: []byte{1, 2, 3}}, []byte("m"), []byte("s"))
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidKeySize))

	err = Verify(PublicKey{Algorithm: Secp256r1, Bytes: []byte{1, 2, 3}}, []byte("m"), []byte("s"))
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidKey))

	err = Verify(PublicKey{Algorithm: 9, Bytes: []byte{1}}, []byte("m"), []byte("s"))
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidKey))
}

func TestMarshalPrivateKeyRoundTrip(t *testing.T) {
	msg := []byte("roundtrip")

	ed, err := GenerateEd25519KeyPair(nil)
	require.NoError(t, err)
	p256, err := GenerateP256KeyPair(nil)
	require.NoError(t, err)

	for _, kp := range []KeyPair{ed, p256} {
		alg, data, err := MarshalPrivateKey(kp)
		require.NoError(t, err)

		restored, err := UnmarshalPrivateKey(alg, data)
		require.NoError(t, err)
		assert.True(t, restored.Public().Equal(kp.Public()))

		signature, err := restored.Sign(nil, msg)
		require.NoError(t, err)
		require.NoError(t, Verify(kp.Public(), msg, signature))
	}
}

func TestUnmarshalPrivateKeyRejectsGarbage(t *testing.T) {
	_, err := UnmarshalPrivateKey(Ed25519, []byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidKeySize))

	_, err = UnmarshalPrivateKey(Secp256r1, []byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, bisckerr.Is(err, bisckerr.CodeInvalidKey))
}

func TestBlockPreimageLayout(t *testing.T) {
	pk := PublicKey{Algorithm: Ed25519, Bytes: []byte{0xaa, 0xbb}}
	got := BlockPreimage([]byte{0x01}, 1, pk)

	want := []byte{
		0x01,                   // payload
		0x01, 0x00, 0x00, 0x00, // u32le signature version
		0x00, 0x00, 0x00, 0x00, // u32le algorithm (ed25519 = 0)
		0xaa, 0xbb, // key bytes
	}
	assert.Equal(t, want, got)
}

func TestThirdPartyPreimages(t *testing.T) {
	payload := []byte{0x01, 0x02}
	prevSig := []byte{0x03}

	v1 := ThirdPartySigV1Preimage(payload, prevSig)
	assert.Equal(t, []byte{0x01, 0x02, 0x01, 0x00, 0x00, 0x00, 0x03}, v1)

	pk := PublicKey{Algorithm: Secp256r1, Bytes: []byte{0x04}}
	legacy := ThirdPartyLegacyPreimage(payload, pk)
	assert.Equal(t, []byte{0x01, 0x02, 0x01, 0x00, 0x00, 0x00, 0x04}, legacy)
}
