package vspfw

import "unsafe"

// Compile-time layout checks against the firmware header.
var (
	_ [RecordSize]byte = [unsafe.Sizeof(Command{})]byte{}
	_ [RecordSize]byte = [unsafe.Sizeof(Response{})]byte{}
	_ [32]byte         = [unsafe.Sizeof(Settings{})]byte{}
	_ [56]byte         = [unsafe.Sizeof(CtrlReg{})]byte{}
	_ [32]byte         = [unsafe.Sizeof(PipelineParams{})]byte{}
	_ [32]byte         = [unsafe.Sizeof(SharpenParams{})]byte{}
	_ [32]byte         = [unsafe.Sizeof(DenoiseParams{})]byte{}
	_ [32]byte         = [unsafe.Sizeof(ColorEnhancementParams{})]byte{}
	_ [32]byte         = [unsafe.Sizeof(FrcParams{})]byte{}
	_ [64]byte         = [unsafe.Sizeof(Picture{})]byte{}
	_ [352]byte        = [unsafe.Sizeof(PictureParams{})]byte{}
)
