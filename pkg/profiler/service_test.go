package profiler_test

import (
	"fmt"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
	"github.com/vulpemventures/vault-cosigner/pkg/profiler"
)

func TestProfilerService(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		svc, err := profiler.NewService(profiler.ServiceOpts{Port: 18000})
		require.NoError(t, err)

		svc.OnConnectionChange(true)
		svc.OnRequest("ping", nil)
		svc.OnRequest("ping", nil)
		svc.OnRequest("sign_unvault_tx", framing.NewTransportError("read", io.EOF))
		svc.OnRequest("sign_unvault_tx", framing.NewProtocolError("bad"))
		svc.OnRequest("sign_unvault_tx", &framing.DeviceError{Message: "refused"})
		svc.OnRequest("secure_batch", fmt.Errorf("oops"))

		count, err := testutil.GatherAndCount(
			svc.Registry(), "vaultsigner_signer_requests_total",
		)
		require.NoError(t, err)
		require.Equal(t, 5, count)

		count, err = testutil.GatherAndCount(
			svc.Registry(), "vaultsigner_signer_connected",
		)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		svc.OnConnectionChange(false)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, port := range []int{0, 80, 65000} {
			svc, err := profiler.NewService(profiler.ServiceOpts{Port: port})
			require.Error(t, err)
			require.Nil(t, svc)
		}
	})
}
