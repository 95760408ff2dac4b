//go:build t32api && cgo

// Package t32api provides the real remote API client on top of the vendor
// SDK. Point CGO_CFLAGS/CGO_LDFLAGS at the TRACE32 demo/api/capi
// directory and build with -tags t32api.
package t32api

/*
#cgo LDFLAGS: -lt32api

#include <stdlib.h>
#include "t32.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/songwenshuai/telnet-rtt/internal/probe"
)

type client struct{}

// Connect returns a Client backed by the vendor SDK. The connection
// itself is established later by Config/Init calls.
func Connect() (probe.Client, error) {
	return &client{}, nil
}

func result(op string, rc C.int) error {
	if rc == 0 {
		return nil
	}
	return probe.NewError(op, probe.Code(rc))
}

func (c *client) Config(key, value string) error {
	ck := C.CString(key)
	cv := C.CString(value)
	defer C.free(unsafe.Pointer(ck))
	defer C.free(unsafe.Pointer(cv))
	return result("T32_Config", C.T32_Config(ck, cv))
}

func (c *client) Init() error {
	return result("T32_Init", C.T32_Init())
}

func (c *client) Attach(device probe.Device) error {
	return result("T32_Attach", C.T32_Attach(C.int(device)))
}

func (c *client) Nop() error {
	return result("T32_Nop", C.T32_Nop())
}

func (c *client) Ping() error {
	return result("T32_Ping", C.T32_Ping())
}

func (c *client) Cmd(format string, args ...any) error {
	cmd := C.CString(fmt.Sprintf(format, args...))
	defer C.free(unsafe.Pointer(cmd))
	return result("T32_Cmd", C.T32_Cmd(cmd))
}

func (c *client) GetSymbol(name string) (probe.Symbol, error) {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))

	var address, size, access C.uint32_t
	if err := result("T32_GetSymbol", C.T32_GetSymbol(cn, &address, &size, &access)); err != nil {
		return probe.Symbol{}, err
	}
	return probe.Symbol{Address: uint32(address), Size: uint32(size)}, nil
}

func (c *client) GetState() (probe.CPUState, error) {
	var state C.int
	if err := result("T32_GetState", C.T32_GetState(&state)); err != nil {
		return 0, err
	}
	return probe.CPUState(state), nil
}

func (c *client) GetPracticeState() (probe.ScriptState, error) {
	var state C.int
	if err := result("T32_GetPracticeState", C.T32_GetPracticeState(&state)); err != nil {
		return 0, err
	}
	return probe.ScriptState(state), nil
}

func (c *client) Go() error {
	return result("T32_Go", C.T32_Go())
}

func (c *client) Break() error {
	return result("T32_Break", C.T32_Break())
}

func (c *client) Stop() error {
	return result("T32_Stop", C.T32_Stop())
}

func (c *client) ReadMemory(addr uint32, space probe.MemorySpace, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	rc := C.T32_ReadMemory(C.uint32_t(addr), C.int(space),
		(*C.uchar)(unsafe.Pointer(&buf[0])), C.int(len(buf)))
	return result("T32_ReadMemory", rc)
}

func (c *client) WriteMemory(addr uint32, space probe.MemorySpace, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	rc := C.T32_WriteMemory(C.uint32_t(addr), C.int(space),
		(*C.uchar)(unsafe.Pointer(&data[0])), C.int(len(data)))
	return result("T32_WriteMemory", rc)
}

func (c *client) Exit() error {
	return result("T32_Exit", C.T32_Exit())
}
