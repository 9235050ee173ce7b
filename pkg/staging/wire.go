/*
 * Copyright 2024 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package staging

// Wire format of one staging transaction. The request is a fixed
// four-dword header followed by the chunk payload; the response is
// always four dwords.
const (
	vendorID          = 0x8086
	objectTypeStaging = 0x5

	// WireHeader is the fixed first word of every request, encoding
	// the vendor and object type the device expects.
	WireHeader = uint32(vendorID | objectTypeStaging<<16)

	// CommandLoad asks the device to accept staging data.
	CommandLoad = uint32(0x3)

	// HeaderSizeBytes is the size of the request header on the wire.
	HeaderSizeBytes = 16

	headerDwords = HeaderSizeBytes / 4

	// OffsetSentinel is the next-offset value the device returns once
	// the entire image has been staged.
	OffsetSentinel = uint32(0xffffffff)

	// PageSize caps the payload of a single transaction.
	PageSize = uint32(4096)
)

// Response flag bits.
const (
	ResponseSuccess  = uint32(1) << 0
	ResponseProgress = uint32(1) << 1
	ResponseError    = uint32(1) << 2
)

// wireRequest is the request header as it appears on the wire,
// little-endian. DwordLength counts the header and the payload.
type wireRequest struct {
	Header      uint32
	DwordLength uint32
	Command     uint32
	Reserved    uint32
}

// wireResponse is the device's reply. The first two words echo the
// request header and length.
type wireResponse struct {
	HeaderEcho uint32
	LengthEcho uint32
	NextOffset uint32
	Flags      uint32
}
