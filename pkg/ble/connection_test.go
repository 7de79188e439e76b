package ble

import (
	"context"
	"testing"

	"github.com/Krajiyah/uds-sdk/internal"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/currantlabs/ble"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

type dummyCoreMethods struct {
	client *internal.DummyCoreClient
}

func (m *dummyCoreMethods) Dial(ctx context.Context, addr ble.Addr) (ble.Client, error) {
	return m.client, nil
}

func getTestConnection(t *testing.T) (*RealConnection, *internal.DummyCoreClient) {
	core := internal.NewDummyCoreClient(internal.TestAddr, internal.GetTestProfile())
	c := NewRealConnection(nil)
	c.methods = &dummyCoreMethods{client: core}
	assert.NilError(t, c.Dial(internal.TestAddr))
	return c, core
}

func TestDialNegotiatesMTU(t *testing.T) {
	c, core := getTestConnection(t)
	assert.Equal(t, c.MTU(), core.Mtu)
	assert.Equal(t, c.ConnectedAddr(), internal.TestAddr)
}

func TestDiscoverHandlesCapturesService(t *testing.T) {
	c, _ := getTestConnection(t)
	_, gaps, udsHandles, err := c.DiscoverHandles()
	assert.NilError(t, err)
	assert.Equal(t, gaps.DeviceName, internal.TestDeviceNameHandle)
	assert.Equal(t, udsHandles.Characteristics[uds.FirstName], internal.TestFirstNameHandle)
	assert.Equal(t, udsHandles.DatabaseChangeIncrement, internal.TestChangeHandle)
	assert.Equal(t, udsHandles.DatabaseChangeIncrementCCCD, internal.TestChangeCCCD)
	assert.Equal(t, udsHandles.UserControlPoint, internal.TestUCPHandle)
	assert.Equal(t, udsHandles.UserControlPointCCCD, internal.TestUCPCCCD)
}

func TestReadAndWriteAttribute(t *testing.T) {
	c, core := getTestConnection(t)
	_, _, _, err := c.DiscoverHandles()
	assert.NilError(t, err)
	core.Attrs[internal.TestFirstNameHandle] = []byte("Ada")
	data, err := c.ReadAttribute(internal.TestFirstNameHandle)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "Ada")
	assert.NilError(t, c.WriteAttribute(internal.TestAgeHandle, []byte{30}))
	assert.DeepEqual(t, core.Attrs[internal.TestAgeHandle], []byte{30})
}

func TestReadLongAppliesOffset(t *testing.T) {
	c, core := getTestConnection(t)
	_, _, _, err := c.DiscoverHandles()
	assert.NilError(t, err)
	core.Attrs[internal.TestFirstNameHandle] = []byte("abcdef")
	data, err := c.ReadLongAttribute(internal.TestFirstNameHandle, 4)
	assert.NilError(t, err)
	assert.Equal(t, string(data), "ef")
	tail, err := c.ReadLongAttribute(internal.TestFirstNameHandle, 6)
	assert.NilError(t, err)
	assert.Equal(t, len(tail), 0)
}

func TestPrepareExecuteCommitsAsOneWrite(t *testing.T) {
	c, core := getTestConnection(t)
	_, _, _, err := c.DiscoverHandles()
	assert.NilError(t, err)
	echo, err := c.PrepareWrite(internal.TestFirstNameHandle, []byte("abc"), 0)
	assert.NilError(t, err)
	assert.DeepEqual(t, echo, []byte("abc"))
	_, err = c.PrepareWrite(internal.TestFirstNameHandle, []byte("def"), 3)
	assert.NilError(t, err)
	assert.NilError(t, c.ExecuteWrite(true))
	assert.DeepEqual(t, core.Attrs[internal.TestFirstNameHandle], []byte("abcdef"))
	assert.Equal(t, len(core.Written[internal.TestFirstNameHandle]), 1)
}

func TestPrepareRejectsOffsetGap(t *testing.T) {
	c, _ := getTestConnection(t)
	_, _, _, err := c.DiscoverHandles()
	assert.NilError(t, err)
	_, err = c.PrepareWrite(internal.TestFirstNameHandle, []byte("abc"), 0)
	assert.NilError(t, err)
	_, err = c.PrepareWrite(internal.TestFirstNameHandle, []byte("ghi"), 6)
	assert.Assert(t, uds.IsTransportError(err))
	// cancel clears the queue so the next sequence starts clean
	assert.NilError(t, c.ExecuteWrite(false))
	_, err = c.PrepareWrite(internal.TestFirstNameHandle, []byte("abc"), 0)
	assert.NilError(t, err)
}

func TestExecuteWithNothingPrepared(t *testing.T) {
	c, _ := getTestConnection(t)
	err := c.ExecuteWrite(true)
	assert.Assert(t, err != nil)
}

func TestOperationsOnUnknownHandle(t *testing.T) {
	c, _ := getTestConnection(t)
	_, err := c.ReadAttribute(0x0099)
	assert.Equal(t, errors.Cause(err), uds.ErrServiceDiscoveryIncomplete)
}
