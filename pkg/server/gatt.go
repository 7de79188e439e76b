package server

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/currantlabs/ble"
)

func getAddrFromReq(req ble.Request) string {
	return strings.ToUpper(req.Conn().RemoteAddr().String())
}

// Service builds the GATT service backed by this server: one characteristic
// per user data type plus the database change increment, user index, and
// user control point characteristics.
func (srv *UDSServer) Service() *ble.Service {
	service := ble.NewService(ble.UUID16(uds.ServiceUUID16))
	for _, t := range uds.AllCharacteristicTypes() {
		service.AddCharacteristic(srv.newDataChar(t))
	}
	service.AddCharacteristic(srv.newChangeIncrementChar())
	service.AddCharacteristic(srv.newUserIndexChar())
	service.AddCharacteristic(srv.newControlPointChar())
	return service
}

// Serve registers the service on the default device and advertises until
// ctx is cancelled. The caller configures the HCI device beforehand.
func (srv *UDSServer) Serve(ctx context.Context) error {
	if err := ble.AddService(srv.Service()); err != nil {
		return err
	}
	return ble.AdvertiseNameAndServices(ctx, srv.name, ble.UUID16(uds.ServiceUUID16))
}

func (srv *UDSServer) newDataChar(t uds.CharacteristicType) *ble.Characteristic {
	c := ble.NewCharacteristic(ble.UUID16(t.UUID16()))
	c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := getAddrFromReq(req)
		value, err := srv.HandleCharacteristicRead(addr, t)
		if err != nil {
			rsp.SetStatus(ble.ATTError(uds.ATTError(err)))
			return
		}
		payload := value.Marshal()
		offset := req.Offset()
		if offset > len(payload) {
			rsp.SetStatus(ble.ErrInvalidOffset)
			return
		}
		rsp.Write(payload[offset:])
	}))
	c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := getAddrFromReq(req)
		if err := srv.HandleCharacteristicWrite(addr, t, req.Data()); err != nil {
			rsp.SetStatus(ble.ATTError(uds.ATTError(err)))
		}
	}))
	return c
}

func (srv *UDSServer) newChangeIncrementChar() *ble.Characteristic {
	c := ble.NewCharacteristic(ble.UUID16(uds.DatabaseChangeIncrementUUID16))
	c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := getAddrFromReq(req)
		increment, err := srv.HandleChangeIncrementRead(addr)
		if err != nil {
			rsp.SetStatus(ble.ATTError(uds.ATTError(err)))
			return
		}
		payload := make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, increment)
		rsp.Write(payload)
	}))
	c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := getAddrFromReq(req)
		if err := srv.HandleChangeIncrementWrite(addr, req.Data()); err != nil {
			rsp.SetStatus(ble.ATTError(uds.ATTError(err)))
		}
	}))
	c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		addr := getAddrFromReq(req)
		srv.OnConnected(addr, session.LEPublic)
		if err := srv.EnableChangeNotifications(addr, func(payload []byte) error {
			_, err := n.Write(payload)
			return err
		}); err != nil {
			return
		}
		<-n.Context().Done()
		srv.DisableChangeNotifications(addr)
	}))
	return c
}

func (srv *UDSServer) newUserIndexChar() *ble.Characteristic {
	c := ble.NewCharacteristic(ble.UUID16(uds.UserIndexUUID16))
	c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := getAddrFromReq(req)
		index, err := srv.HandleUserIndexRead(addr)
		if err != nil {
			rsp.SetStatus(ble.ATTError(uds.ATTError(err)))
			return
		}
		rsp.Write([]byte{index})
	}))
	return c
}

func (srv *UDSServer) newControlPointChar() *ble.Characteristic {
	c := ble.NewCharacteristic(ble.UUID16(uds.UserControlPointUUID16))
	c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		addr := getAddrFromReq(req)
		if err := srv.HandleControlPointWrite(addr, req.Data()); err != nil {
			rsp.SetStatus(ble.ATTError(uds.ATTError(err)))
		}
	}))
	c.HandleIndicate(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
		addr := getAddrFromReq(req)
		srv.OnConnected(addr, session.LEPublic)
		if err := srv.EnableControlPointIndications(addr, func(payload []byte) error {
			_, err := n.Write(payload)
			return err
		}); err != nil {
			return
		}
		<-n.Context().Done()
		srv.DisableControlPointIndications(addr)
	}))
	return c
}
