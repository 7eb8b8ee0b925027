package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"tinygo.org/x/bluetooth"

	"github.com/BTBurke/critforce/pkg/progressor"
)

func TestProgressorUUIDs(t *testing.T) {
	for _, uuid := range []string{progressor.ServiceUUID, progressor.WriteUUID, progressor.NotifyUUID} {
		t.Run(uuid, func(t *testing.T) {
			id, err := bluetooth.ParseUUID(uuid)
			assert.NoError(t, err)
			assert.Equal(t, uuid, id.String())
		})
	}
}
