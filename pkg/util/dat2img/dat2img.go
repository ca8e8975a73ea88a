package dat2img

// Implementation based on:
// - https://github.com/tujiaw/wechat_dat_to_image
// - https://github.com/LC044/WeChatMsg/blob/6535ed0/wxManager/decrypt/decrypt_dat.py

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Format defines the header and extension for different image types.
type Format struct {
	Header []byte
	AesKey []byte
	Ext    string
}

var (
	JPG     = Format{Header: []byte{0xFF, 0xD8, 0xFF}, Ext: "jpg"}
	PNG     = Format{Header: []byte{0x89, 0x50, 0x4E, 0x47}, Ext: "png"}
	GIF     = Format{Header: []byte{0x47, 0x49, 0x46, 0x38}, Ext: "gif"}
	TIFF    = Format{Header: []byte{0x49, 0x49, 0x2A, 0x00}, Ext: "tiff"}
	BMP     = Format{Header: []byte{0x42, 0x4D}, Ext: "bmp"}
	WXGF    = Format{Header: []byte{0x77, 0x78, 0x67, 0x66}, Ext: "wxgf"}
	Formats = []Format{JPG, PNG, GIF, TIFF, BMP, WXGF}

	V4Format1 = Format{Header: []byte{0x07, 0x08, 0x56, 0x31}, AesKey: []byte("cfcd208495d565ef")}
	V4Format2 = Format{Header: []byte{0x07, 0x08, 0x56, 0x32}, AesKey: []byte("0000000000000000")}
	V4Formats = []*Format{&V4Format1, &V4Format2}

	// V4XorKey is the XOR key for the tail section of v4 dat files. The real
	// key varies per install and is recovered by ScanAndSetXorKey.
	V4XorKey byte = 0x37
	JpgTail       = []byte{0xFF, 0xD9}
)

// Dat2Image converts a WeChat .dat media file to plain image bytes.
// Returns the decoded data, file extension, and any error encountered.
func Dat2Image(data []byte) ([]byte, string, error) {
	if len(data) < 4 {
		return nil, "", fmt.Errorf("data length is too short: %d", len(data))
	}

	if len(data) >= 6 {
		for _, format := range V4Formats {
			if bytes.Equal(data[:4], format.Header) {
				return Dat2ImageV4(data, format.AesKey)
			}
		}
	}

	// Older clients XOR the whole file with a single byte.
	findFormat := func(data []byte, header []byte) bool {
		xorBit := data[0] ^ header[0]
		for i := 0; i < len(header); i++ {
			if data[i]^header[i] != xorBit {
				return false
			}
		}
		return true
	}

	var xorBit byte
	var found bool
	var ext string
	for _, format := range Formats {
		if found = findFormat(data, format.Header); found {
			xorBit = data[0] ^ format.Header[0]
			ext = format.Ext
			break
		}
	}

	if !found {
		return nil, "", fmt.Errorf("unknown image type: %x %x", data[0], data[1])
	}

	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ xorBit
	}
	return out, ext, nil
}

// calculateXorKeyV4 recovers the XOR key by comparing the file tail against
// the JPG trailer bytes (FF D9).
func calculateXorKeyV4(data []byte) (byte, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("data too short to calculate XOR key")
	}

	fileTail := data[len(data)-2:]
	xorKeys := make([]byte, 2)
	for i := 0; i < 2; i++ {
		xorKeys[i] = fileTail[i] ^ JpgTail[i]
	}

	if xorKeys[0] == xorKeys[1] {
		return xorKeys[0], nil
	}
	return xorKeys[0], fmt.Errorf("inconsistent XOR key, using first byte: 0x%x", xorKeys[0])
}

// ScanAndSetXorKey scans dirPath for "_t.dat" thumbnails and derives the
// global v4 XOR key from the first usable one.
func ScanAndSetXorKey(dirPath string) (byte, error) {
	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(info.Name(), "_t.dat") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if len(data) < 15 || (!bytes.Equal(data[:4], V4Format1.Header) && !bytes.Equal(data[:4], V4Format2.Header)) {
			return nil
		}

		xorEncryptLen := binary.LittleEndian.Uint32(data[10:14])
		fileData := data[15:]
		if xorEncryptLen == 0 || uint32(len(fileData)) < xorEncryptLen {
			return nil
		}

		xorData := fileData[uint32(len(fileData))-xorEncryptLen:]
		key, err := calculateXorKeyV4(xorData)
		if err != nil {
			return nil
		}

		V4XorKey = key
		log.Debug().Str("file", path).Msgf("calculated v4 xor key: 0x%x", V4XorKey)
		return filepath.SkipAll
	})

	if err != nil && err != filepath.SkipAll {
		return V4XorKey, fmt.Errorf("error scanning directory: %v", err)
	}
	return V4XorKey, nil
}

// SetAesKey installs the account image key for the 0x07085632 variant.
func SetAesKey(key string) {
	if key == "" {
		return
	}
	if len(key) == 16 {
		V4Format2.AesKey = []byte(key)
		return
	}
	decoded, err := hex.DecodeString(key)
	if err != nil {
		log.Error().Err(err).Msg("invalid aes key")
		return
	}
	V4Format2.AesKey = decoded
}

// Dat2ImageV4 processes v4 dat files, which mix AES-ECB for the head,
// plaintext for the middle and XOR for the tail.
func Dat2ImageV4(data []byte, aeskey []byte) ([]byte, string, error) {
	if len(data) < 15 {
		return nil, "", fmt.Errorf("data length is too short for v4 format: %d", len(data))
	}

	// Header layout:
	// - 6 bytes: 0x07085631 / 0x07085632 identifier
	// - 4 bytes: little-endian AES-ECB128 encrypted length
	// - 4 bytes: little-endian XOR encrypted length
	// - 1 byte:  0x01
	aesEncryptLen := binary.LittleEndian.Uint32(data[6:10])
	xorEncryptLen := binary.LittleEndian.Uint32(data[10:14])
	fileData := data[15:]

	aesEncryptLen0 := (aesEncryptLen)/16*16 + 16
	if aesEncryptLen0 > uint32(len(fileData)) {
		aesEncryptLen0 = uint32(len(fileData))
	}

	aesDecryptedData, err := decryptAESECB(fileData[:aesEncryptLen0], aeskey)
	if err != nil {
		return nil, "", fmt.Errorf("AES decrypt error: %v", err)
	}

	var result []byte
	if len(aesDecryptedData) > int(aesEncryptLen) {
		result = append(result, aesDecryptedData[:aesEncryptLen]...)
	} else {
		result = append(result, aesDecryptedData...)
	}

	middleStart := aesEncryptLen0
	middleEnd := uint32(len(fileData)) - xorEncryptLen
	if middleStart < middleEnd {
		result = append(result, fileData[middleStart:middleEnd]...)
	}

	if xorEncryptLen > 0 && middleEnd < uint32(len(fileData)) {
		xorData := fileData[middleEnd:]
		xorDecrypted := make([]byte, len(xorData))
		for i := range xorData {
			xorDecrypted[i] = xorData[i] ^ V4XorKey
		}
		result = append(result, xorDecrypted...)
	}

	imgType := ""
	for _, format := range Formats {
		if len(result) >= len(format.Header) && bytes.Equal(result[:len(format.Header)], format.Header) {
			imgType = format.Ext
			break
		}
	}

	if imgType == "" {
		return nil, "", fmt.Errorf("unknown image type after decryption")
	}
	return result, imgType, nil
}

func decryptAESECB(data, key []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	cipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("data length is not a multiple of block size")
	}

	decrypted := make([]byte, len(data))
	for bs, be := 0, aes.BlockSize; bs < len(data); bs, be = bs+aes.BlockSize, be+aes.BlockSize {
		cipher.Decrypt(decrypted[bs:be], data[bs:be])
	}

	// PKCS#7
	padding := int(decrypted[len(decrypted)-1])
	if padding > 0 && padding <= aes.BlockSize {
		valid := true
		for i := len(decrypted) - padding; i < len(decrypted); i++ {
			if decrypted[i] != byte(padding) {
				valid = false
				break
			}
		}
		if valid {
			return decrypted[:len(decrypted)-padding], nil
		}
	}
	return decrypted, nil
}
