package provision

// State is a step of the provisioning run
type State int

const (
	StateInit State = iota
	StateJoinFactoryAP
	StatePushHomeCredentials
	StateRejoinHomeNetwork
	StateAwaitDeviceSettle
	StateResolveDeviceIP
	StateConfirmOrManualIP
	StatePrepareFirmware
	StateUnlockDevice
	StateServeAndFlash
	StateAwaitCompletion
	StateDone

	// StateManualProvisioning configures the device through its own
	// post-reset AP. A successful run through it ends provisioning.
	StateManualProvisioning
)

var stateNames = map[State]string{
	StateInit:                "Init",
	StateJoinFactoryAP:       "JoinFactoryAp",
	StatePushHomeCredentials: "PushHomeCredentialsToDevice",
	StateRejoinHomeNetwork:   "RejoinHomeNetwork",
	StateAwaitDeviceSettle:   "AwaitDeviceSettle",
	StateResolveDeviceIP:     "ResolveDeviceIp",
	StateConfirmOrManualIP:   "ConfirmOrManualIp",
	StatePrepareFirmware:     "PrepareFirmware",
	StateUnlockDevice:        "UnlockDevice",
	StateServeAndFlash:       "ServeAndFlash",
	StateAwaitCompletion:     "AwaitCompletion",
	StateDone:                "Done",
	StateManualProvisioning:  "ManualProvisioning",
}

var stateTitles = map[State]string{
	StateInit:                "Starting",
	StateJoinFactoryAP:       "Joining the device pairing network",
	StatePushHomeCredentials: "Sending wifi credentials to the device",
	StateRejoinHomeNetwork:   "Rejoining your wifi network",
	StateAwaitDeviceSettle:   "Waiting for the device to join your network",
	StateResolveDeviceIP:     "Looking for the device",
	StateConfirmOrManualIP:   "Confirming the device address",
	StatePrepareFirmware:     "Preparing firmware",
	StateUnlockDevice:        "Unlocking OTA updates",
	StateServeAndFlash:       "Flashing Tasmota",
	StateAwaitCompletion:     "Waiting for the download to finish",
	StateDone:                "Done",
	StateManualProvisioning:  "Configuring Tasmota wifi",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Title is a human readable description of the state
func (s State) Title() string {
	if title, ok := stateTitles[s]; ok {
		return title
	}
	return s.String()
}
