package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

// bound for the counter loop when lifting a hash to a curve point
const maxHashToCurveIterations = 1 << 16

var ErrNoValidPoint = errors.New("no valid point found")

// HashToCurve maps a message to a point on the curve as specified
// in [NUT-00].
//
// [NUT-00]: https://github.com/cashubtc/nuts/blob/main/00.md
func HashToCurve(message []byte) (*secp256k1.PublicKey, error) {
	msgToHash := sha256.Sum256(append([]byte(domainSeparator), message...))

	counter := make([]byte, 4)
	for i := uint32(0); i < maxHashToCurveIterations; i++ {
		binary.LittleEndian.PutUint32(counter, i)
		hash := sha256.Sum256(append(msgToHash[:], counter...))

		pkhash := append([]byte{0x02}, hash[:]...)
		point, err := secp256k1.ParsePubKey(pkhash)
		if err != nil {
			continue
		}
		return point, nil
	}
	return nil, ErrNoValidPoint
}

// B_ = Y + rG
func BlindMessage(secret string, r *secp256k1.PrivateKey) (
	*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {

	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return nil, nil, err
	}
	Y.AsJacobian(&ypoint)

	rpub := r.PubKey()
	rpub.AsJacobian(&rpoint)

	// blindedMessage = Y + rG
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r, nil
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	// result = k * B_
	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// k * HashToCurve(secret) == C
func Verify(secret string, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y, err := HashToCurve([]byte(secret))
	if err != nil {
		return false
	}
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// HashE hashes the UTF-8 bytes of the hex-encoded uncompressed
// serializations of the public keys as specified in [NUT-12].
//
// [NUT-12]: https://github.com/cashubtc/nuts/blob/main/12.md
func HashE(publicKeys []*secp256k1.PublicKey) [32]byte {
	var hashSlice []byte
	for _, pk := range publicKeys {
		uncompressed := pk.SerializeUncompressed()
		hashSlice = append(hashSlice, []byte(hex.EncodeToString(uncompressed))...)
	}
	return sha256.Sum256(hashSlice)
}

// GenerateDLEQ generates the DLEQ proof (e, s) for the signature
// C_ = kB_ against the mint public key K = kG.
func GenerateDLEQ(k *secp256k1.PrivateKey, B_, C_ *secp256k1.PublicKey) (
	*secp256k1.PrivateKey, *secp256k1.PrivateKey, error) {

	r, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	// R1 = rG
	R1 := r.PubKey()

	// R2 = rB_
	var bpoint, r2point secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)
	secp256k1.ScalarMultNonConst(&r.Key, &bpoint, &r2point)
	r2point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2point.X, &r2point.Y)

	// e = hash(R1, R2, K, C_)
	ehash := HashE([]*secp256k1.PublicKey{R1, R2, k.PubKey(), C_})
	e := secp256k1.PrivKeyFromBytes(ehash[:])

	// s = r + ek
	var ek, s secp256k1.ModNScalar
	ek.Mul2(&e.Key, &k.Key)
	s.Add2(&r.Key, &ek)

	return e, secp256k1.NewPrivateKey(&s), nil
}

// VerifyDLEQ verifies that (e, s) proves knowledge of the discrete log
// binding C_ to the public key A:
//
//	R1 = sG - eA
//	R2 = sB_ - eC_
//	e == hash(R1, R2, A, C_)
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = sG - eA
	var sGPoint, eNegAPoint, r1Point secp256k1.JacobianPoint
	var aPoint secp256k1.JacobianPoint
	A.AsJacobian(&aPoint)
	secp256k1.ScalarBaseMultNonConst(&s.Key, &sGPoint)
	secp256k1.ScalarMultNonConst(&eNeg, &aPoint, &eNegAPoint)
	secp256k1.AddNonConst(&sGPoint, &eNegAPoint, &r1Point)
	r1Point.ToAffine()
	R1 := secp256k1.NewPublicKey(&r1Point.X, &r1Point.Y)

	// R2 = sB_ - eC_
	var sBPoint, eNegCPoint, r2Point secp256k1.JacobianPoint
	var bPoint, cPoint secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)
	C_.AsJacobian(&cPoint)
	secp256k1.ScalarMultNonConst(&s.Key, &bPoint, &sBPoint)
	secp256k1.ScalarMultNonConst(&eNeg, &cPoint, &eNegCPoint)
	secp256k1.AddNonConst(&sBPoint, &eNegCPoint, &r2Point)
	r2Point.ToAffine()
	R2 := secp256k1.NewPublicKey(&r2Point.X, &r2Point.Y)

	hash := HashE([]*secp256k1.PublicKey{R1, R2, A, C_})
	expected := secp256k1.PrivKeyFromBytes(hash[:])

	return e.Key.Equals(&expected.Key)
}
