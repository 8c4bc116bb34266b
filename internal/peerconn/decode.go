package peerconn

import (
	"encoding/binary"
	"fmt"

	"github.com/dragwire/torrentcore/internal/peerprotocol"
)

func decode(id peerprotocol.MessageID, payload []byte) (interface{}, error) {
	switch id {
	case peerprotocol.Choke:
		return peerprotocol.ChokeMessage{}, nil
	case peerprotocol.Unchoke:
		return peerprotocol.UnchokeMessage{}, nil
	case peerprotocol.Interested:
		return peerprotocol.InterestedMessage{}, nil
	case peerprotocol.NotInterested:
		return peerprotocol.NotInterestedMessage{}, nil
	case peerprotocol.Have:
		if len(payload) != 4 {
			return nil, fmt.Errorf("peerconn: invalid have length %d", len(payload))
		}
		return peerprotocol.HaveMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case peerprotocol.Bitfield:
		return peerprotocol.BitfieldMessage{Data: payload}, nil
	case peerprotocol.Request:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerconn: invalid request length %d", len(payload))
		}
		return peerprotocol.RequestMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case peerprotocol.Piece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("peerconn: invalid piece length %d", len(payload))
		}
		return Piece{
			PieceMessage: peerprotocol.PieceMessage{
				Index: binary.BigEndian.Uint32(payload[0:4]),
				Begin: binary.BigEndian.Uint32(payload[4:8]),
			},
			Data: payload[8:],
		}, nil
	case peerprotocol.Cancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerconn: invalid cancel length %d", len(payload))
		}
		return peerprotocol.CancelMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case peerprotocol.Port:
		if len(payload) != 2 {
			return nil, fmt.Errorf("peerconn: invalid port length %d", len(payload))
		}
		return peerprotocol.PortMessage{Port: binary.BigEndian.Uint16(payload)}, nil
	case peerprotocol.Suggest:
		if len(payload) != 4 {
			return nil, fmt.Errorf("peerconn: invalid suggest length %d", len(payload))
		}
		return peerprotocol.SuggestMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case peerprotocol.HaveAll:
		return peerprotocol.HaveAllMessage{}, nil
	case peerprotocol.HaveNone:
		return peerprotocol.HaveNoneMessage{}, nil
	case peerprotocol.Reject:
		if len(payload) != 12 {
			return nil, fmt.Errorf("peerconn: invalid reject length %d", len(payload))
		}
		return peerprotocol.RejectMessage{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case peerprotocol.AllowedFast:
		if len(payload) != 4 {
			return nil, fmt.Errorf("peerconn: invalid allowed-fast length %d", len(payload))
		}
		return peerprotocol.AllowedFastMessage{Index: binary.BigEndian.Uint32(payload)}, nil
	case peerprotocol.Extended:
		if len(payload) < 1 {
			return nil, fmt.Errorf("peerconn: empty extended message")
		}
		return peerprotocol.ExtensionMessage{
			ExtendedMessageID: peerprotocol.ExtendedMessageID(payload[0]),
			Payload:           payload[1:],
		}, nil
	default:
		return nil, peerprotocol.ErrInvalidMessage
	}
}
