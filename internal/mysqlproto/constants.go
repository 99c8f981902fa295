// Package mysqlproto implements the slice of the MySQL client/server wire
// protocol the firewall needs: packet framing, command codes, capability
// manipulation in the handshake, and the pre-built synthetic reply packets.
package mysqlproto

// Client command codes (first payload byte of a client packet).
const (
	ComSleep           byte = 0x00
	ComQuit            byte = 0x01
	ComInitDB          byte = 0x02
	ComQuery           byte = 0x03
	ComFieldList       byte = 0x04
	ComCreateDB        byte = 0x05
	ComDropDB          byte = 0x06
	ComRefresh         byte = 0x07
	ComShutdown        byte = 0x08
	ComStatistics      byte = 0x09
	ComProcessInfo     byte = 0x0a
	ComConnect         byte = 0x0b
	ComProcessKill     byte = 0x0c
	ComDebug           byte = 0x0d
	ComPing            byte = 0x0e
	ComTime            byte = 0x0f
	ComDelayedInsert   byte = 0x10
	ComChangeUser      byte = 0x11
	ComBinlogDump      byte = 0x12
	ComTableDump       byte = 0x13
	ComConnectOut      byte = 0x14
	ComRegisterSlave   byte = 0x15
	ComStmtPrepare     byte = 0x16
	ComStmtExecute     byte = 0x17
	ComStmtSendLongData byte = 0x18
	ComStmtClose       byte = 0x19
	ComStmtReset       byte = 0x1a
	ComSetOption       byte = 0x1b
	ComStmtFetch       byte = 0x1c
)

// Capability flags. Only the compress bit is ever rewritten; it lives in
// the low byte of the capability word in both handshake directions.
const (
	ClientCompress uint32 = 0x0020
)

// Server status flags.
const (
	StatusAutoCommit uint16 = 0x0002
)

// Result markers (first payload byte of a server packet).
const (
	OKMarker    byte = 0x00
	EOFMarker   byte = 0xfe
	ErrMarker   byte = 0xff
	FieldVarStr byte = 0xfd
)

// ErrAccessDenied is the errno sent on a login-filter rejection; the default
// generic error uses errUnknownDefault with SQL state 42000.
const (
	ErrAccessDenied   uint16 = 1045
	errUnknownDefault uint16 = 0x0428
)

// SQLStateForErrno maps a MySQL error number to its five-character SQL
// state. Unlisted errors fall back to the generic 42000 used by the
// synthetic error packet.
func SQLStateForErrno(code uint16) string {
	switch code {
	case 1249, 1261, 1262, 1265, 1311:
		return "01000"
	case 1329:
		return "02000"
	case 1040, 1251:
		return "08004"
	case 1042, 1043, 1047, 1053, 1080, 1081, 1152, 1153, 1154, 1155, 1156,
		1157, 1158, 1159, 1160, 1161, 1184, 1189, 1190, 1218:
		return "08S01"
	case 1312, 1314, 1335, 1415:
		return "0A000"
	case 1339:
		return "20000"
	case 1222, 1241, 1242:
		return "21000"
	case 1058, 1136:
		return "21S01"
	case 1406:
		return "22001"
	case 1264, 1416:
		return "22003"
	case 1138, 1263:
		return "22004"
	case 1292, 1367:
		return "22007"
	case 1365:
		return "22012"
	case 1022, 1048, 1052, 1062, 1169, 1216, 1217:
		return "23000"
	case 1325, 1326:
		return "24000"
	case 1179, 1207:
		return "25000"
	case 1045:
		return "28000"
	case 1303:
		return "2F003"
	case 1321:
		return "2F005"
	case 1046:
		return "3D000"
	case 1213:
		return "40001"
	case 1050:
		return "42S01"
	case 1051, 1109, 1146:
		return "42S02"
	case 1082:
		return "42S12"
	case 1060:
		return "42S21"
	case 1054, 1247:
		return "42S22"
	case 1317:
		return "70100"
	case 1037, 1038:
		return "HY001"
	case 1402:
		return "XA100"
	case 1401:
		return "XAE03"
	case 1397:
		return "XAE04"
	case 1398:
		return "XAE05"
	case 1399:
		return "XAE07"
	case 1400:
		return "XAE09"
	}
	return "42000"
}
