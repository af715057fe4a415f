package specter_test

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/internal/core/ports"
	"github.com/vulpemventures/vault-cosigner/internal/infrastructure/signer/specter"
	"github.com/vulpemventures/vault-cosigner/pkg/cosigner"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"github.com/vulpemventures/vault-cosigner/pkg/vault"
	"github.com/vulpemventures/vault-cosigner/pkg/vault/vaulttest"
)

func TestDevice(t *testing.T) {
	f := vaulttest.NewFixture(t)

	t.Run("valid", func(t *testing.T) {
		device := specter.NewDevice(newFakeSpecter(t, f.Stakeholders, nil))
		defer device.Close()

		require.NoError(t, device.Ping())

		unvaultTx, err := vault.DeriveUnvaultTx(f.Descriptors, f.Deposit(0))
		require.NoError(t, err)
		signed, err := device.SignUnvaultTx(unvaultTx)
		require.NoError(t, err)
		require.Equal(t, unvaultTx.UnsignedTx.TxHash(), signed.UnsignedTx.TxHash())
		require.Len(t, signed.Inputs[0].PartialSigs, len(f.Stakeholders))
		// Merged into a copy, the original metadata is kept.
		require.Empty(t, unvaultTx.Inputs[0].PartialSigs)
		require.Equal(t, unvaultTx.Inputs[0].WitnessScript, signed.Inputs[0].WitnessScript)
		require.Equal(t, unvaultTx.Inputs[0].Bip32Derivation, signed.Inputs[0].Bip32Derivation)

		revocationTxs, err := vault.DeriveRevocationTxs(f.Descriptors, f.Deposit(0))
		require.NoError(t, err)
		signedTxs, err := device.SignRevocationTxs(revocationTxs)
		require.NoError(t, err)
		require.Equal(t, revocationTxs.Txids(), signedTxs.Txids())
		for _, tx := range signedTxs.Txs() {
			require.Len(t, tx.Inputs[0].PartialSigs, len(f.Stakeholders))
		}

		secureRes, err := device.SecureBatch([]vault.Deposit{f.Deposit(0)})
		require.NoError(t, err)
		require.Equal(t, ports.BatchUnsupported, secureRes.Status)
		delegateRes, err := device.DelegateBatch([]vault.Deposit{f.Deposit(0)})
		require.NoError(t, err)
		require.Equal(t, ports.BatchUnsupported, delegateRes.Status)
	})

	t.Run("invalid", func(t *testing.T) {
		unvaultTx, err := vault.DeriveUnvaultTx(f.Descriptors, f.Deposit(0))
		require.NoError(t, err)
		foreignTx, err := vault.DeriveUnvaultTx(f.Descriptors, f.Deposit(1))
		require.NoError(t, err)

		tests := []struct {
			name     string
			reply    func(psbtB64 string) []string
			isDevice bool
		}{
			{
				name: "missing_ack",
				reply: func(string) []string {
					return []string{"cHNidP8="}
				},
			},
			{
				name: "empty_payload",
				reply: func(string) []string {
					return []string{framing.AckLine, ""}
				},
			},
			{
				name: "invalid_psbt",
				reply: func(string) []string {
					return []string{framing.AckLine, "not a psbt"}
				},
			},
			{
				name: "txid_mismatch",
				reply: func(string) []string {
					return []string{framing.AckLine, encode(t, foreignTx)}
				},
			},
			{
				name: "user_refusal",
				reply: func(string) []string {
					return []string{framing.AckLine, "error: user cancelled"}
				},
				isDevice: true,
			},
		}

		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				device := specter.NewDevice(newFakeSpecter(t, f.Stakeholders, tt.reply))
				defer device.Close()

				_, err := device.SignUnvaultTx(unvaultTx)
				require.Error(t, err)
				if tt.isDevice {
					require.True(t, framing.IsDeviceError(err))
					return
				}
				require.True(t, framing.IsProtocolError(err))
			})
		}
	})
}

// newFakeSpecter returns the client end of a pipe whose other end behaves
// like a Specter device. The optional reply func overrides the answer to
// sign commands.
func newFakeSpecter(
	t *testing.T, keys []*hdkeychain.ExtendedKey,
	reply func(psbtB64 string) []string,
) net.Conn {
	client, server := net.Pipe()

	go func() {
		defer server.Close()
		reader := bufio.NewReader(server)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")

			var lines []string
			switch {
			case cmd == "fingerprint":
				lines = []string{framing.AckLine, "d34db33f"}
			case strings.HasPrefix(cmd, "sign "):
				psbtB64 := strings.TrimPrefix(cmd, "sign ")
				if reply != nil {
					lines = reply(psbtB64)
					break
				}
				lines = []string{framing.AckLine, signAndReduce(t, keys, psbtB64)}
			default:
				lines = []string{"error: unknown command"}
			}

			for _, l := range lines {
				if _, err := fmt.Fprintf(server, "%s\r\n", l); err != nil {
					return
				}
			}
		}
	}()

	return client
}

// signAndReduce signs the psbt and returns one with just the unsigned tx
// and the partial signatures, like the device does.
func signAndReduce(
	t *testing.T, keys []*hdkeychain.ExtendedKey, psbtB64 string,
) string {
	ptx, err := vault.DecodePsbt(psbtB64)
	require.NoError(t, err)
	_, err = cosigner.SignPsbt(cosigner.SignPsbtArgs{Packet: ptx, Keys: keys})
	require.NoError(t, err)

	reduced, err := psbt.NewFromUnsignedTx(ptx.UnsignedTx)
	require.NoError(t, err)
	for i, in := range ptx.Inputs {
		reduced.Inputs[i].PartialSigs = in.PartialSigs
	}
	return encode(t, reduced)
}

func encode(t *testing.T, ptx *psbt.Packet) string {
	var buf bytes.Buffer
	require.NoError(t, ptx.Serialize(&buf))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
