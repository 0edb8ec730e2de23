/*
Copyright 2018 The go4 Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package bmff reads ISO Base Media File Format boxes, as used by AVIF
// and HEIF.
package bmff

// FourCC is a four-byte ASCII box or item type tag.
type FourCC [4]byte

func (f FourCC) String() string { return string(f[:]) }

// EqualString reports whether f equals the 4-byte ASCII string s.
func (f FourCC) EqualString(s string) bool {
	return len(s) == 4 && s[0] == f[0] && s[1] == f[1] && s[2] == f[2] && s[3] == f[3]
}

// FourCCFrom builds a FourCC from a 4-byte string. It panics if s is not
// exactly 4 bytes; callers must only use it with compile-time constants.
func FourCCFrom(s string) FourCC {
	if len(s) != 4 {
		panic("bmff: FourCC string must be 4 bytes")
	}
	return FourCC{s[0], s[1], s[2], s[3]}
}

// Well-known box types referenced throughout the parser.
var (
	TypeFtyp = FourCCFrom("ftyp")
	TypeMeta = FourCCFrom("meta")
	TypeMoov = FourCCFrom("moov")
	TypeMdat = FourCCFrom("mdat")

	TypePitm = FourCCFrom("pitm")
	TypeIinf = FourCCFrom("iinf")
	TypeInfe = FourCCFrom("infe")
	TypeIloc = FourCCFrom("iloc")
	TypeIref = FourCCFrom("iref")
	TypeIprp = FourCCFrom("iprp")
	TypeIpco = FourCCFrom("ipco")
	TypeIpma = FourCCFrom("ipma")
	TypeIdat = FourCCFrom("idat")

	TypePixi = FourCCFrom("pixi")
	TypeAuxC = FourCCFrom("auxC")
	TypeIspe = FourCCFrom("ispe")
	TypeGrid = FourCCFrom("grid")

	TypeMvhd = FourCCFrom("mvhd")
	TypeTrak = FourCCFrom("trak")
	TypeMdia = FourCCFrom("mdia")
	TypeMdhd = FourCCFrom("mdhd")
	TypeHdlr = FourCCFrom("hdlr")
	TypeMinf = FourCCFrom("minf")
	TypeStbl = FourCCFrom("stbl")
	TypeStts = FourCCFrom("stts")
	TypeStsc = FourCCFrom("stsc")
	TypeStsz = FourCCFrom("stsz")
	TypeStco = FourCCFrom("stco")
	TypeCo64 = FourCCFrom("co64")
	TypeEdts = FourCCFrom("edts")
	TypeElst = FourCCFrom("elst")
	TypeTref = FourCCFrom("tref")

	TypeDimg = FourCCFrom("dimg")
	TypeAuxl = FourCCFrom("auxl")
	TypePrem = FourCCFrom("prem")
	TypeCdsc = FourCCFrom("cdsc")

	TypeUuid = FourCCFrom("uuid")
)
